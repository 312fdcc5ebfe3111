package observer

import (
	"context"
	"slices"
	"strings"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/store"
)

// reconcile brings the host observer index in line with a user's current
// subscriptions. It diffs the full current map against the mirror of what
// was last reconciled, so it is idempotent and independent of how the
// caller arrived at the current state. Must run under the user's lock.
//
// Only keys whose observer count crosses 0↔1 are federated; a key going
// from two observers to one is invisible outside this node.
func (s *Service) reconcile(ctx context.Context, userID string, current map[string][]string) error {
	mirror, err := s.mirrors.Get(ctx, userID)
	if err != nil {
		return err
	}

	currentTokens := flattenSubscriptions(current)
	mirrorTokens := flattenSubscriptions(mirror)
	added := unflattenTokens(tokenDiff(currentTokens, mirrorTokens))
	removed := unflattenTokens(tokenDiff(mirrorTokens, currentTokens))

	notifyAdded := map[string][]string{}
	notifyRemoved := map[string][]string{}
	for _, host := range affectedHosts(added, removed) {
		err := s.locker.WithLock(ctx, store.HostLockName(host), func() error {
			data, err := s.hosts.Get(ctx, host)
			if err != nil {
				return err
			}
			changed := false
			for _, key := range added[host] {
				wasNewKey, c := data.AddUserKey(userID, key)
				if wasNewKey {
					notifyAdded[host] = append(notifyAdded[host], key)
				}
				changed = changed || c
			}
			for _, key := range removed[host] {
				keyNowEmpty, c := data.RemoveUserKey(userID, key)
				if keyNowEmpty {
					notifyRemoved[host] = append(notifyRemoved[host], key)
				}
				changed = changed || c
			}
			if !changed {
				return nil
			}
			return s.hosts.Set(ctx, host, data)
		})
		if err != nil {
			return err
		}
	}

	if err := s.mirrors.Set(ctx, userID, current); err != nil {
		return err
	}

	for _, host := range affectedHosts(notifyAdded, notifyRemoved) {
		s.notifier.NotifySubscriptionChange(ctx, host, notifyAdded[host], notifyRemoved[host])
	}
	return nil
}

// flattenSubscriptions turns a host→keys map into a set of "host:key"
// tokens. Hostnames cannot contain a colon, so splitting at the first one
// is unambiguous.
func flattenSubscriptions(subs map[string][]string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for host, keys := range subs {
		for _, key := range keys {
			tokens[host+":"+key] = struct{}{}
		}
	}
	return tokens
}

// unflattenTokens groups tokens back into a host→keys map with each host's
// keys sorted, keeping index writes and federation payloads deterministic.
func unflattenTokens(tokens map[string]struct{}) map[string][]string {
	out := map[string][]string{}
	for token := range tokens {
		host, key, ok := strings.Cut(token, ":")
		if !ok {
			continue
		}
		out[host] = append(out[host], key)
	}
	for host := range out {
		slices.Sort(out[host])
	}
	return out
}

func tokenDiff(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for token := range a {
		if _, ok := b[token]; !ok {
			out[token] = struct{}{}
		}
	}
	return out
}

// affectedHosts returns the sorted union of hosts present in either map.
func affectedHosts(a, b map[string][]string) []string {
	var hosts []string
	for host := range a {
		hosts = append(hosts, host)
	}
	for host := range b {
		if _, ok := a[host]; !ok {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts
}
