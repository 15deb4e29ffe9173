package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/linalg"
)

func TestCache_GetOrCompute(t *testing.T) {
	var computed atomic.Int64
	c, err := New(WithComputeHook(func(Kind, string) { computed.Add(1) }))
	require.NoError(t, err)

	key := NewKey().String("identity").Int(0, 50).Key()
	fn := func() (*linalg.Matrix, error) { return linalg.Identity(4), nil }

	m1, err := Get(c, KindR, key, fn)
	require.NoError(t, err)
	m2, err := Get(c, KindR, key, fn)
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Equal(t, int64(1), computed.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Computes: 1}, c.Stats(KindR))
	assert.Equal(t, 1, c.Len(KindR))
	assert.Equal(t, 4*4*16, c.SizeBytes())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("R", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("R", "miss")))
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = c.GetOrCompute(KindG, "k", func() (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len(KindG))

	v, err := c.GetOrCompute(KindG, "k", func() (any, error) { return 3, nil })
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCache_ConcurrentSameKey(t *testing.T) {
	var computed atomic.Int64
	c, err := New(WithComputeHook(func(Kind, string) { computed.Add(1) }))
	require.NoError(t, err)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := c.GetOrCompute(KindH, "shared", func() (any, error) {
				return linalg.Identity(8), nil
			})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), computed.Load())
}

func TestCache_Invalidate(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	put := func(kind Kind, key string) {
		_, err := c.GetOrCompute(kind, key, func() (any, error) { return []float64{1}, nil })
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		kind  Kind
		keys  []string
		wantR int
		wantG int
	}{
		{name: "single key", kind: KindR, keys: []string{"a"}, wantR: 1, wantG: 2},
		{name: "whole kind", kind: KindR, wantR: 0, wantG: 2},
		{name: "everything", kind: "", wantR: 0, wantG: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			put(KindR, "a")
			put(KindR, "b")
			put(KindG, "a")
			put(KindG, "b")

			c.Invalidate(tt.kind, tt.keys...)
			assert.Equal(t, tt.wantR, c.Len(KindR))
			assert.Equal(t, tt.wantG, c.Len(KindG))
		})
	}
}

func TestCache_Registerer(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(WithRegisterer(reg))
	require.NoError(t, err)

	_, err = New(WithRegisterer(reg))
	assert.Error(t, err, "second registration of the same collector must fail")
}

func TestKeyBuilder(t *testing.T) {
	base := func() *KeyBuilder { return NewKey().String("R").Int(0, 50, 0) }

	assert.Equal(t, base().Float64s([]float64{1, 0, 1}).Key(), base().Float64s([]float64{1, 0, 1}).Key())
	assert.NotEqual(t, base().Float64s([]float64{1, 0, 1}).Key(), base().Float64s([]float64{1, 1, 1}).Key())
	assert.NotEqual(t, NewKey().String("ab").String("c").Key(), NewKey().String("a").String("bc").Key())
	assert.NotEqual(t, NewKey().Bool(true).Key(), NewKey().Bool(false).Key())
	assert.NotEqual(t,
		NewKey().Float64Grid([][]float64{{1, 2}, {3}}).Key(),
		NewKey().Float64Grid([][]float64{{1}, {2, 3}}).Key())
}
