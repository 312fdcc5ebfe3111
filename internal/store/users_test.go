package store

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/dotsmesh/dotsmesh-observer-go/internal/envelope"
	"github.com/dotsmesh/dotsmesh-observer-go/internal/models"
)

func TestUserStoreCRUD(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	users := NewUserStore(kv)

	exists, err := users.Exists(ctx, "userA")
	assert.Equal(t, err, nil)
	assert.Equal(t, exists, false)

	rec, err := users.Get(ctx, "userA")
	assert.Equal(t, err, nil)
	if rec != nil {
		t.Fatal("expected nil record for unknown user")
	}

	put := &models.UserRecord{
		ID:            "userA",
		CreatedAt:     1700000000,
		Subscriptions: map[string][]string{"example.com": {"k1"}},
		PushEndpoints: map[string]string{"s1": "blob"},
	}
	assert.Equal(t, users.Put(ctx, "userA", put), nil)

	exists, err = users.Exists(ctx, "userA")
	assert.Equal(t, err, nil)
	assert.Equal(t, exists, true)

	rec, err = users.Get(ctx, "userA")
	assert.Equal(t, err, nil)
	assert.Equal(t, rec, put)

	assert.Equal(t, users.Delete(ctx, "userA"), nil)
	exists, _ = users.Exists(ctx, "userA")
	assert.Equal(t, exists, false)
}

func TestUserStoreRawIDsNeverStored(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	users := NewUserStore(kv)

	err := users.Put(ctx, "someone@example.com", &models.UserRecord{ID: "someone@example.com"})
	assert.Equal(t, err, nil)

	ok, err := kv.Exists(ctx, "u/"+Digest("someone@example.com"))
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)
}

func TestUserStoreTagMismatch(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	users := NewUserStore(kv)

	// a host-data envelope in the user namespace is a corruption signal
	packed, err := envelope.Pack(envelope.TagHostData, map[string]any{"u": []string{}, "k": map[string]any{}})
	assert.Equal(t, err, nil)
	assert.Equal(t, kv.Set(ctx, userDataKey("userA"), packed), nil)

	_, err = users.Get(ctx, "userA")
	if !errors.Is(err, envelope.ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
}

func TestMirrorStoreDeletesWhenEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	mirrors := NewMirrorStore(kv)

	subs := map[string][]string{"example.com": {"k1"}}
	assert.Equal(t, mirrors.Set(ctx, "userA", subs), nil)

	got, err := mirrors.Get(ctx, "userA")
	assert.Equal(t, err, nil)
	assert.Equal(t, got, subs)

	assert.Equal(t, mirrors.Set(ctx, "userA", nil), nil)
	ok, _ := kv.Exists(ctx, mirrorDataKey("userA"))
	assert.Equal(t, ok, false)

	got, err = mirrors.Get(ctx, "userA")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(got), 0)
}

func TestHostDataStoreDeletesWhenEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	hosts := NewHostDataStore(kv)

	data, err := hosts.Get(ctx, "example.com")
	assert.Equal(t, err, nil)
	assert.Equal(t, data.IsEmpty(), true)

	data.AddUserKey("userA", "k1")
	assert.Equal(t, hosts.Set(ctx, "example.com", data), nil)

	got, err := hosts.Get(ctx, "example.com")
	assert.Equal(t, err, nil)
	assert.Equal(t, got.Users, []string{"userA"})
	assert.Equal(t, got.Keys["k1"], []int{0})

	// last key gone, backing record goes with it
	got.RemoveUserKey("userA", "k1")
	assert.Equal(t, hosts.Set(ctx, "example.com", got), nil)
	ok, _ := kv.Exists(ctx, hostDataKey("example.com"))
	assert.Equal(t, ok, false)
}

func TestMemoryStoreLockSerializes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	counter := 0
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			err := s.WithLock(ctx, "lock/test", func() error {
				v := counter
				counter = v + 1
				return nil
			})
			assert.Equal(t, err, nil)
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, counter, 10)
}

func TestDigestIsStableAndBounded(t *testing.T) {
	a := Digest("userA")
	b := Digest("userA")
	assert.Equal(t, a, b)
	assert.Equal(t, len(a), 32)
	assert.NotEqual(t, Digest("userB"), a)
}
