package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedis(rdb, "test:")
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				s := mk(t)
				_, err := s.Get(ctx, "position_X")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("put bumps version", func(t *testing.T) {
				s := mk(t)
				require.NoError(t, s.Put(ctx, "k", []byte(`{"a":1}`)))
				require.NoError(t, s.Put(ctx, "k", []byte(`{"a":2}`)))

				d, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, int64(2), d.Version)
				assert.JSONEq(t, `{"a":2}`, string(d.Data))
			})

			t.Run("insert if absent", func(t *testing.T) {
				s := mk(t)
				ok, err := s.InsertIfAbsent(ctx, "position_X", []byte(`{"v":1}`))
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.InsertIfAbsent(ctx, "position_X", []byte(`{"v":2}`))
				require.NoError(t, err)
				assert.False(t, ok)

				d, err := s.Get(ctx, "position_X")
				require.NoError(t, err)
				assert.JSONEq(t, `{"v":1}`, string(d.Data))
				assert.Equal(t, int64(1), d.Version)
			})

			t.Run("compare and swap", func(t *testing.T) {
				s := mk(t)
				_, err := s.InsertIfAbsent(ctx, "k", []byte(`{"v":1}`))
				require.NoError(t, err)

				ok, err := s.CompareAndSwap(ctx, "k", 1, []byte(`{"v":2}`))
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.CompareAndSwap(ctx, "k", 1, []byte(`{"v":3}`))
				require.NoError(t, err)
				assert.False(t, ok, "stale version must lose")

				ok, err = s.CompareAndSwap(ctx, "missing", 1, []byte(`{}`))
				require.NoError(t, err)
				assert.False(t, ok, "swap must not create documents")

				d, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.JSONEq(t, `{"v":2}`, string(d.Data))
				assert.Equal(t, int64(2), d.Version)
			})

			t.Run("delete twice", func(t *testing.T) {
				s := mk(t)
				require.NoError(t, s.Put(ctx, "k", []byte(`{}`)))

				ok, err := s.Delete(ctx, "k")
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.Delete(ctx, "k")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("delete version", func(t *testing.T) {
				s := mk(t)
				require.NoError(t, s.Put(ctx, "k", []byte(`{}`)))
				require.NoError(t, s.Put(ctx, "k", []byte(`{}`)))

				ok, err := s.DeleteVersion(ctx, "k", 1)
				require.NoError(t, err)
				assert.False(t, ok, "stale version must not delete")

				ok, err = s.DeleteVersion(ctx, "k", 2)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.DeleteVersion(ctx, "k", 2)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("prefix operations", func(t *testing.T) {
				s := mk(t)
				for _, k := range []string{"position_B", "position_A", "active_signal_A", "cooldown_post_close_A"} {
					require.NoError(t, s.Put(ctx, k, []byte(`{}`)))
				}
				_, err := s.Increment(ctx, "position_stats", "n", 1)
				require.NoError(t, err)

				docs, err := s.FindByPrefix(ctx, "position_")
				require.NoError(t, err)
				require.Len(t, docs, 2)
				assert.Equal(t, "position_A", docs[0].Key)
				assert.Equal(t, "position_B", docs[1].Key)

				n, err := s.DeleteByPrefix(ctx, "position_")
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)

				docs, err = s.FindByPrefix(ctx, "")
				require.NoError(t, err)
				assert.Len(t, docs, 2)
			})

			t.Run("counters", func(t *testing.T) {
				s := mk(t)
				_, err := s.Increment(ctx, "bot_stats", "total_profit_loss", 150)
				require.NoError(t, err)
				v, err := s.Increment(ctx, "bot_stats", "total_profit_loss", -25.5)
				require.NoError(t, err)
				assert.InDelta(t, 124.5, v, 1e-9)

				c, err := s.Counters(ctx, "bot_stats")
				require.NoError(t, err)
				assert.InDelta(t, 124.5, c["total_profit_loss"], 1e-9)

				c, err = s.Counters(ctx, "empty")
				require.NoError(t, err)
				assert.Empty(t, c)
			})

			t.Run("concurrent insert has one winner", func(t *testing.T) {
				s := mk(t)
				var wins atomic.Int32
				var wg sync.WaitGroup
				for i := 0; i < 16; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := s.InsertIfAbsent(ctx, "position_X", []byte(`{}`))
						assert.NoError(t, err)
						if ok {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
			})
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	type doc struct {
		A string  `json:"a"`
		B float64 `json:"b"`
	}
	b, err := Encode(doc{A: "x", B: 1.5})
	require.NoError(t, err)

	var out doc
	require.NoError(t, Decode(Document{Key: "k", Data: b}, &out))
	assert.Equal(t, doc{A: "x", B: 1.5}, out)

	assert.Error(t, Decode(Document{Key: "k", Data: []byte("{")}, &out))
}

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, globEscape("a*b?c[d]"))
	assert.Equal(t, "position_", globEscape("position_"))
}
