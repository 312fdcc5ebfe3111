package store

import (
	"context"
	"fmt"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/envelope"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
)

// HostDataStore persists per-host observer indexes in the o/h/ namespace.
type HostDataStore struct {
	kv KV
}

func NewHostDataStore(kv KV) *HostDataStore {
	return &HostDataStore{kv: kv}
}

// Get returns a zero-value index when the host has no record.
func (s *HostDataStore) Get(ctx context.Context, host string) (*models.HostObserverData, error) {
	raw, ok, err := s.kv.Get(ctx, hostDataKey(host))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.HostObserverData{}, nil
	}
	var data models.HostObserverData
	if err := envelope.UnpackInto(raw, envelope.TagHostData, &data); err != nil {
		return nil, fmt.Errorf("decode host observer data: %w", err)
	}
	return &data, nil
}

// Set persists the index, deleting the backing record once no key has any
// observer left.
func (s *HostDataStore) Set(ctx context.Context, host string, data *models.HostObserverData) error {
	key := hostDataKey(host)
	if data.IsEmpty() {
		return s.kv.Delete(ctx, key)
	}
	packed, err := envelope.Pack(envelope.TagHostData, data)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, packed)
}
