// Package observer implements the subscription index and change
// propagation engine: it maps users to the (host, key) pairs they watch,
// keeps the per-host inverted index in sync with user records, federates
// 0↔1 observer transitions to remote nodes and fans incoming change events
// out to push notifications.
package observer

import (
	"context"
	"errors"
	"time"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/events"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/federation"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/push"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/store"
)

// ErrUserNotFound is returned by user-targeted operations when the user
// has no record.
var ErrUserNotFound = errors.New("observer: user not found")

type Service struct {
	users    *store.UserStore
	mirrors  *store.MirrorStore
	hosts    *store.HostDataStore
	locker   store.Locker
	notifier federation.Notifier
	sender   push.Sender
	events   *events.Logger
}

func NewService(kv store.KV, locker store.Locker, notifier federation.Notifier, sender push.Sender, ev *events.Logger) *Service {
	return &Service{
		users:    store.NewUserStore(kv),
		mirrors:  store.NewMirrorStore(kv),
		hosts:    store.NewHostDataStore(kv),
		locker:   locker,
		notifier: notifier,
		sender:   sender,
		events:   ev,
	}
}

// UserExists reports whether the user has a record, i.e. is signed up.
func (s *Service) UserExists(ctx context.Context, userID string) (bool, error) {
	return s.users.Exists(ctx, userID)
}

// Signup creates or replaces a user record, seeding subscriptions and at
// most one push endpoint, then reconciles the observer index. Replacing
// first tears the previous registration down completely so a re-signup
// behaves exactly like a fresh one.
func (s *Service) Signup(ctx context.Context, userID string, subscriptions map[string][]string, sessionID, pushSubscription string) error {
	return s.locker.WithLock(ctx, store.UserLockName(userID), func() error {
		if err := s.deleteUserLocked(ctx, userID); err != nil {
			return err
		}
		rec := &models.UserRecord{
			ID:            userID,
			CreatedAt:     time.Now().Unix(),
			Subscriptions: models.SanitizeSubscriptions(subscriptions),
		}
		if sessionID != "" && pushSubscription != "" {
			rec.PushEndpoints = map[string]string{sessionID: pushSubscription}
		}
		if err := s.users.Put(ctx, userID, rec); err != nil {
			return err
		}
		return s.reconcile(ctx, userID, rec.Subscriptions)
	})
}

// DeleteUser cascade-deletes a user: every index position they hold is
// released (federating keys that lose their last observer), the mirror goes
// with the index entries and the record is removed last.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	return s.locker.WithLock(ctx, store.UserLockName(userID), func() error {
		return s.deleteUserLocked(ctx, userID)
	})
}

func (s *Service) deleteUserLocked(ctx context.Context, userID string) error {
	if err := s.reconcile(ctx, userID, nil); err != nil {
		return err
	}
	return s.users.Delete(ctx, userID)
}

// AddPushSubscription stores one push endpoint blob under the session id,
// replacing a previous blob for the same session.
func (s *Service) AddPushSubscription(ctx context.Context, userID, sessionID, blob string) error {
	return s.locker.WithLock(ctx, store.UserLockName(userID), func() error {
		rec, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrUserNotFound
		}
		if !rec.SetPushEndpoint(sessionID, blob) {
			return nil
		}
		return s.users.Put(ctx, userID, rec)
	})
}

// deletePushEndpoint prunes one expired endpoint. Losing the last endpoint
// deletes the whole user: with nowhere left to deliver, the registration is
// dead weight in every index it appears in.
func (s *Service) deletePushEndpoint(ctx context.Context, userID, sessionID string) error {
	return s.locker.WithLock(ctx, store.UserLockName(userID), func() error {
		rec, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if rec == nil || !rec.DeletePushEndpoint(sessionID) {
			return nil
		}
		if len(rec.PushEndpoints) == 0 {
			return s.deleteUserLocked(ctx, userID)
		}
		return s.users.Put(ctx, userID, rec)
	})
}

// UpdateSubscriptions mutates a user's subscription set and reconciles the
// observer index. clearAll wipes every subscription across all hosts (the
// "*" sentinel); otherwise removals are applied before additions, as a
// caller sending both expects the additions to survive.
func (s *Service) UpdateSubscriptions(ctx context.Context, userID string, keysToAdd, keysToRemove map[string][]string, clearAll bool) error {
	return s.locker.WithLock(ctx, store.UserLockName(userID), func() error {
		rec, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrUserNotFound
		}

		changed := false
		if clearAll {
			changed = rec.ClearSubscriptions()
		} else {
			for host, keys := range models.SanitizeSubscriptions(keysToRemove) {
				if rec.RemoveSubscriptions(host, keys) {
					changed = true
				}
			}
		}
		for host, keys := range models.SanitizeSubscriptions(keysToAdd) {
			if rec.AddSubscriptions(host, keys) {
				changed = true
			}
		}
		if !changed {
			return nil
		}

		if err := s.users.Put(ctx, userID, rec); err != nil {
			return err
		}
		return s.reconcile(ctx, userID, rec.Subscriptions)
	})
}
