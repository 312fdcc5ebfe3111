package models

import (
	"slices"
	"strings"
)

// UserRecord is the persisted state of one signed-up user. The short JSON
// keys match the stored data format: i = id, d = created at, s =
// subscriptions by host, p = push endpoints by session.
type UserRecord struct {
	ID            string              `json:"i"`
	CreatedAt     int64               `json:"d"`
	Subscriptions map[string][]string `json:"s,omitempty"`
	PushEndpoints map[string]string   `json:"p,omitempty"`
}

// AddSubscriptions merges keys into the user's subscription set for host.
// The host must already be normalized and valid. Reports whether anything
// changed.
func (u *UserRecord) AddSubscriptions(host string, keys []string) bool {
	changed := false
	for _, key := range keys {
		if key == "" {
			continue
		}
		if slices.Contains(u.Subscriptions[host], key) {
			continue
		}
		if u.Subscriptions == nil {
			u.Subscriptions = map[string][]string{}
		}
		u.Subscriptions[host] = append(u.Subscriptions[host], key)
		changed = true
	}
	return changed
}

// RemoveSubscriptions drops keys from the user's subscription set for host,
// deleting the host entry when its last key goes. Reports whether anything
// changed.
func (u *UserRecord) RemoveSubscriptions(host string, keys []string) bool {
	existing, ok := u.Subscriptions[host]
	if !ok {
		return false
	}
	changed := false
	for _, key := range keys {
		if i := slices.Index(existing, key); i >= 0 {
			existing = slices.Delete(existing, i, i+1)
			changed = true
		}
	}
	if !changed {
		return false
	}
	if len(existing) == 0 {
		delete(u.Subscriptions, host)
	} else {
		u.Subscriptions[host] = existing
	}
	return true
}

// ClearSubscriptions empties the whole subscription map. Reports whether
// anything changed.
func (u *UserRecord) ClearSubscriptions() bool {
	if len(u.Subscriptions) == 0 {
		return false
	}
	u.Subscriptions = nil
	return true
}

// SetPushEndpoint stores one push endpoint blob under a session id,
// replacing any previous blob for that session. Reports whether anything
// changed.
func (u *UserRecord) SetPushEndpoint(sessionID, blob string) bool {
	if existing, ok := u.PushEndpoints[sessionID]; ok && existing == blob {
		return false
	}
	if u.PushEndpoints == nil {
		u.PushEndpoints = map[string]string{}
	}
	u.PushEndpoints[sessionID] = blob
	return true
}

// DeletePushEndpoint removes one push endpoint. Reports whether the session
// was present.
func (u *UserRecord) DeletePushEndpoint(sessionID string) bool {
	if _, ok := u.PushEndpoints[sessionID]; !ok {
		return false
	}
	delete(u.PushEndpoints, sessionID)
	return true
}

// SanitizeSubscriptions normalizes a caller-supplied subscriptions map:
// hosts are trimmed and lower-cased, invalid hosts are dropped, keys are
// deduplicated and empty keys are discarded. The result never shares memory
// with the input.
func SanitizeSubscriptions(subs map[string][]string) map[string][]string {
	if len(subs) == 0 {
		return nil
	}
	out := map[string][]string{}
	for host, keys := range subs {
		host = NormalizeHost(host)
		if !IsValidHost(host) {
			continue
		}
		for _, key := range keys {
			if key == "" || strings.Contains(key, ":") {
				continue
			}
			if !slices.Contains(out[host], key) {
				out[host] = append(out[host], key)
			}
		}
		if len(out[host]) == 0 {
			delete(out, host)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
