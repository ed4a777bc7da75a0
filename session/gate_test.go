package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	gate, cleanup := tempGate(ctx, t, time.Hour)
	defer cleanup()

	_, err := gate.Require(ctx, "")
	if !errors.Is(err, Unauthenticated{}) {
		t.Fatalf("anonymous callers should get %v got %v", Unauthenticated{}, err)
	}

	tk, issued, err := gate.Start(ctx, 42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, tk)
	assert.Equal(t, int64(42), issued.UserID)
	assert.Equal(t, issued.IssuedAt.Add(time.Hour), issued.ExpiresAt)

	id, err := gate.Require(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Identifier)
	assert.Equal(t, int64(42), id.UserID)

	require.NoError(t, gate.End(ctx, tk))
	_, found, err := gate.Lookup(ctx, tk)
	require.NoError(t, err)
	assert.False(t, found, "token should be gone after End")

	// ending twice is fine
	require.NoError(t, gate.End(ctx, tk))
	require.NoError(t, gate.End(ctx, "never-issued"))
}

func TestSessionExpiration(t *testing.T) {
	ctx := context.Background()
	gate, cleanup := tempGate(ctx, t, time.Minute)
	defer cleanup()
	clock := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return clock }

	tk, _, err := gate.Start(ctx, 1, "bob")
	require.NoError(t, err)

	clock = clock.Add(59 * time.Second)
	_, found, err := gate.Lookup(ctx, tk)
	require.NoError(t, err)
	assert.True(t, found)

	clock = clock.Add(time.Second)
	_, err = gate.Require(ctx, tk)
	assert.ErrorIs(t, err, Unauthenticated{})

	// expired entries are removed from the store
	store := gate.store.(*MemoryStore)
	_, found, err = store.Get(ctx, string(tk))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionWithoutExpiration(t *testing.T) {
	ctx := context.Background()
	gate, cleanup := tempGate(ctx, t, 0)
	defer cleanup()
	clock := time.Now()
	gate.now = func() time.Time { return clock }

	tk, issued, err := gate.Start(ctx, 7, "carol")
	require.NoError(t, err)
	assert.True(t, issued.ExpiresAt.IsZero())

	clock = clock.Add(24 * 365 * time.Hour)
	id, err := gate.Require(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, "carol", id.Identifier)
}

func TestTokensAreUniqueAndLong(t *testing.T) {
	ctx := context.Background()
	gate, cleanup := tempGate(ctx, t, time.Hour)
	defer cleanup()

	seen := map[Token]bool{}
	for i := 0; i < 100; i++ {
		tk, _, err := gate.Start(ctx, 1, "dave")
		require.NoError(t, err)
		require.False(t, seen[tk], "token %v issued twice", tk)
		seen[tk] = true

		raw, err := base64.RawURLEncoding.DecodeString(string(tk))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(raw)*8, 128)
	}
	// every login is a separate session
	for tk := range seen {
		_, found, err := gate.Lookup(ctx, tk)
		require.NoError(t, err)
		require.True(t, found)
	}
}

func TestGarbageEntry(t *testing.T) {
	ctx := context.Background()
	gate, cleanup := tempGate(ctx, t, time.Hour)
	defer cleanup()
	require.NoError(t, gate.store.Set(ctx, "broken", []byte("not json"), time.Hour))
	_, found, err := gate.Lookup(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreFailure(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(failingStore{}, time.Hour)
	_, _, err := gate.Start(ctx, 1, "erin")
	require.Error(t, err)
	_, err = gate.Require(ctx, "abc")
	require.Error(t, err)
	assert.False(t, errors.Is(err, Unauthenticated{}), "store errors are not authentication errors")
	require.Error(t, gate.End(ctx, "abc"))
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	gate, cleanup := tempGate(ctx, t, time.Hour)
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			tk, _, err := gate.Start(ctx, int64(i), name)
			if err != nil {
				t.Error(err)
				return
			}
			id, err := gate.Require(ctx, tk)
			if err != nil {
				t.Error(err)
				return
			}
			if id.Identifier != name {
				t.Errorf("expecting %v got %v", name, id.Identifier)
			}
			if err := gate.End(ctx, tk); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, gate.store.(*MemoryStore).Len())
}

func TestPurgeFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	ctx := logutil.WithLogger(context.Background(), zerolog.New(&buf))
	gate := NewGate(stuckStore{entry: []byte("not json")}, time.Hour)
	_, found, err := gate.Lookup(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Contains(t, buf.String(), "Unable to purge session")
	assert.Contains(t, buf.String(), `"reason":"unreadable"`)
}

type failingStore struct{}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("boom")
}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("boom")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("boom")
}

// stuckStore always returns entry and cannot delete anything
type stuckStore struct {
	entry []byte
}

func (s stuckStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (s stuckStore) Get(context.Context, string) ([]byte, bool, error) {
	return s.entry, true, nil
}

func (s stuckStore) Delete(context.Context, string) error {
	return errors.New("read-only")
}

func tempGate(ctx context.Context, t *testing.T, ttl time.Duration) (*Gate, func()) {
	store, err := NewMemoryStore(ctx, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return NewGate(store, ttl), func() {
		if err := store.Close(); err != nil {
			t.Log("unable to close store", err)
		}
	}
}
