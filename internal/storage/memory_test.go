package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreGetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNoKey)

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`)))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(v))

	require.NoError(t, s.Remove(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestMemStoreGetDefault(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	v, err := GetDefault(ctx, s, "missing", []byte("[]"))
	require.NoError(t, err)
	require.Equal(t, []byte("[]"), v)
}

func TestMemStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	var fired []string
	unsub := s.Subscribe("k", func(key string) { fired = append(fired, key) })

	require.NoError(t, s.Set(ctx, "k", []byte("1")))
	require.NoError(t, s.Set(ctx, "other", []byte("2")))
	require.NoError(t, s.Remove(ctx, "k"))
	require.Equal(t, []string{"k", "k"}, fired)

	// removing an absent key does not notify
	require.NoError(t, s.Remove(ctx, "k"))
	require.Len(t, fired, 2)

	unsub()
	unsub() // safe twice
	require.NoError(t, s.Set(ctx, "k", []byte("3")))
	require.Len(t, fired, 2)
}

func TestMemStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.Set(ctx, "k", []byte("abc")))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	v[0] = 'x'

	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}

func TestMemStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Set(ctx, "k", []byte("v"))
				_, _ = s.Get(ctx, "k")
			}
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
