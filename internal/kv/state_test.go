package kv

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeEntry struct {
	jetstream.KeyValueEntry
	value []byte
	rev   uint64
}

func (e *fakeEntry) Value() []byte    { return e.value }
func (e *fakeEntry) Revision() uint64 { return e.rev }

// fakeBucket is an in-memory KeyValue covering the calls Store makes.
// conflicts makes the next N Update calls fail as if another writer won.
type fakeBucket struct {
	jetstream.KeyValue

	mu        sync.Mutex
	data      map[string]*fakeEntry
	rev       uint64
	conflicts int
	updates   int
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{data: make(map[string]*fakeEntry)}
}

func (f *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (f *fakeBucket) Create(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	f.rev++
	f.data[key] = &fakeEntry{value: value, rev: f.rev}
	return f.rev, nil
}

func (f *fakeBucket) Update(_ context.Context, key string, value []byte, last uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	e, ok := f.data[key]
	if !ok || e.rev != last {
		return 0, errors.New("wrong last sequence")
	}
	f.rev++
	if f.conflicts > 0 {
		f.conflicts--
		e.rev = f.rev // someone else wrote first
		return 0, errors.New("wrong last sequence")
	}
	f.data[key] = &fakeEntry{value: value, rev: f.rev}
	return f.rev, nil
}

func (f *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(f.data, key)
	return nil
}

func (f *fakeBucket) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.data) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

type counter struct {
	N int `json:"n"`
}

func TestUpdateJSON_RetriesOnConflict(t *testing.T) {
	bucket := newFakeBucket()
	s := NewStore(bucket)
	ctx := context.Background()

	if _, err := s.Create(ctx, "c", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	bucket.conflicts = 2

	got, err := UpdateJSON(ctx, s, "c", func(c *counter) error {
		c.N++
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJSON: %v", err)
	}
	if got.N != 2 {
		t.Errorf("N = %d, want 2", got.N)
	}
	if bucket.updates != 3 {
		t.Errorf("updates = %d, want 3", bucket.updates)
	}

	var stored counter
	if _, err := s.GetJSON(ctx, "c", &stored); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if stored.N != 2 {
		t.Errorf("stored N = %d, want 2", stored.N)
	}
}

func TestUpdateJSON_GivesUpAfterRetries(t *testing.T) {
	bucket := newFakeBucket()
	s := NewStore(bucket)
	ctx := context.Background()

	if _, err := s.Create(ctx, "c", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	bucket.conflicts = casAttempts

	_, err := UpdateJSON(ctx, s, "c", func(c *counter) error { c.N++; return nil })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateJSON_MissingKey(t *testing.T) {
	s := NewStore(newFakeBucket())
	_, err := UpdateJSON(context.Background(), s, "missing", func(c *counter) error { return nil })
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateJSON_MutateAborts(t *testing.T) {
	bucket := newFakeBucket()
	s := NewStore(bucket)
	ctx := context.Background()
	if _, err := s.Create(ctx, "c", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stop := errors.New("stop")
	if _, err := UpdateJSON(ctx, s, "c", func(c *counter) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	if bucket.updates != 0 {
		t.Errorf("updates = %d, want 0", bucket.updates)
	}
}

func TestStoreKeysAndDelete(t *testing.T) {
	s := NewStore(newFakeBucket())
	ctx := context.Background()

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys on empty bucket: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}

	if _, err := s.Create(ctx, "a", []byte(`{}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create(ctx, "a", []byte(`{}`)); !IsExists(err) {
		t.Fatalf("second Create: expected exists, got %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete of missing key should be nil, got %v", err)
	}
}
