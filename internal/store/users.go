package store

import (
	"context"
	"fmt"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/envelope"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
)

// UserStore persists user records in the u/ namespace.
type UserStore struct {
	kv KV
}

func NewUserStore(kv KV) *UserStore {
	return &UserStore{kv: kv}
}

func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	return s.kv.Exists(ctx, userDataKey(userID))
}

// Get returns nil without error when the user is not signed up.
func (s *UserStore) Get(ctx context.Context, userID string) (*models.UserRecord, error) {
	raw, ok, err := s.kv.Get(ctx, userDataKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var rec models.UserRecord
	if err := envelope.UnpackInto(raw, envelope.TagUserRecord, &rec); err != nil {
		return nil, fmt.Errorf("decode user record: %w", err)
	}
	return &rec, nil
}

func (s *UserStore) Put(ctx context.Context, userID string, rec *models.UserRecord) error {
	packed, err := envelope.Pack(envelope.TagUserRecord, rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, userDataKey(userID), packed)
}

func (s *UserStore) Delete(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, userDataKey(userID))
}

// MirrorStore persists, per user, the subscriptions map as it was last
// reconciled into the host observer index (the o/u/ namespace). The mirror
// only exists to make reconciliation a pure diff; it is never read as
// authoritative user state.
type MirrorStore struct {
	kv KV
}

func NewMirrorStore(kv KV) *MirrorStore {
	return &MirrorStore{kv: kv}
}

// Get returns an empty map when no mirror exists.
func (s *MirrorStore) Get(ctx context.Context, userID string) (map[string][]string, error) {
	raw, ok, err := s.kv.Get(ctx, mirrorDataKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var subs map[string][]string
	if err := envelope.UnpackInto(raw, envelope.TagObservedKeys, &subs); err != nil {
		return nil, fmt.Errorf("decode observed keys: %w", err)
	}
	return subs, nil
}

// Set replaces the mirror, deleting the backing record when the map is
// empty.
func (s *MirrorStore) Set(ctx context.Context, userID string, subs map[string][]string) error {
	key := mirrorDataKey(userID)
	if len(subs) == 0 {
		return s.kv.Delete(ctx, key)
	}
	packed, err := envelope.Pack(envelope.TagObservedKeys, subs)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, packed)
}
