package oqe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

func TestQHat(t *testing.T) {
	k1, k2 := []uvdata.Key{key(0, bl1)}, []uvdata.Key{key(1, bl2)}

	tests := []struct {
		name  string
		taper taper.Window
	}{
		{"no taper", taper.WindowNone},
		{"blackman-harris", taper.WindowBlackmanHarris},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestData(t)
			require.NoError(t, p.SetTaper(tt.taper))

			direct, err := p.QHat(k1, k2, false, false, uvdata.PolXX)
			require.NoError(t, err)
			fft, err := p.QHat(k1, k2, true, false, uvdata.PolXX)
			require.NoError(t, err)

			rows, cols := direct.Dims()
			assert.Equal(t, p.Ndlys(), rows)
			assert.Equal(t, p.Ntimes(), cols)
			assert.True(t, linalg.EqualApprox(direct, fft, 1e-9))
		})
	}

	t.Run("auto power is real and positive", func(t *testing.T) {
		p := newTestData(t)
		q, err := p.QHat(k1, k1, true, false, uvdata.PolXX)
		require.NoError(t, err)
		rows, cols := q.Dims()
		for a := 0; a < rows; a++ {
			for ti := 0; ti < cols; ti++ {
				assert.InDelta(t, 0, imag(q.At(a, ti)), 1e-9)
				assert.GreaterOrEqual(t, real(q.At(a, ti)), 0.0)
			}
		}
	})

	t.Run("fewer delays", func(t *testing.T) {
		p := newTestData(t)
		require.NoError(t, p.SetNdlys(8))
		q, err := p.QHat(k1, k2, true, false, uvdata.PolXX)
		require.NoError(t, err)
		rows, _ := q.Dims()
		assert.Equal(t, 8, rows)
	})

	t.Run("exact with fft", func(t *testing.T) {
		p := newTestData(t)
		_, err := p.QHat(k1, k2, true, true, uvdata.PolXX)
		assert.True(t, IsConfigError(err))
	})

	t.Run("mismatched key lists", func(t *testing.T) {
		p := newTestData(t)
		_, err := p.QHat(k1, nil, false, false, uvdata.PolXX)
		assert.True(t, IsConfigError(err))
	})
}

func TestGetGH(t *testing.T) {
	p := newTestData(t)
	k1, k2 := key(0, bl1), key(1, bl2)

	g, err := p.GetG(k1, k2, false, uvdata.PolXX)
	require.NoError(t, err)
	require.Len(t, g, p.Ntimes())
	rows, cols := g[0].Dims()
	assert.Equal(t, p.Ndlys(), rows)
	assert.Equal(t, p.Ndlys(), cols)

	t.Run("sampling matches G", func(t *testing.T) {
		h, err := p.GetH(k1, k2, true, false, uvdata.PolXX)
		require.NoError(t, err)
		for ti := range g {
			assert.True(t, linalg.EqualApprox(g[ti], h[ti], 1e-10))
		}
	})

	t.Run("without sampling", func(t *testing.T) {
		h, err := p.GetH(k1, k2, false, false, uvdata.PolXX)
		require.NoError(t, err)
		require.Len(t, h, p.Ntimes())
		assert.Positive(t, h[0].MaxAbs())
	})

	t.Run("average", func(t *testing.T) {
		avg, err := AverageTimes(g)
		require.NoError(t, err)
		assert.True(t, linalg.EqualApprox(g[0], avg, 1e-10), "unflagged times share G")
	})
}

func TestGetG_FullyFlagged(t *testing.T) {
	flags := make([]int, 16)
	for i := range flags {
		flags[i] = i
	}
	p, err := New([]*uvdata.Dataset{simulate(t, "a", 1, flags...), simulate(t, "b", 2)})
	require.NoError(t, err)

	g, err := p.GetG(key(0, bl1), key(1, bl2), false, uvdata.PolXX)
	require.NoError(t, err)
	assert.True(t, linalg.EqualApprox(linalg.Identity(16), g[0], 0))
	assert.True(t, p.HasWarning(WarnIdentityG))
}

func TestGetE(t *testing.T) {
	p := newTestData(t)
	k1, k2 := key(0, bl1), key(1, bl2)

	e, err := p.GetE(k1, k2, 0, false, uvdata.PolXX)
	require.NoError(t, err)
	require.Len(t, e, p.Ndlys())

	g, err := p.GAt(k1, k2, 0, false, uvdata.PolXX)
	require.NoError(t, err)
	q1, err := p.QAlt(1, true, false)
	require.NoError(t, err)

	// G_ab = tr(E_a Q_b)
	got := linalg.Mul(e[3], q1).Trace()
	assert.InDelta(t, real(g.At(3, 1)), real(got), 1e-8*math.Max(1, g.MaxAbs()))
	assert.InDelta(t, imag(g.At(3, 1)), imag(got), 1e-8*math.Max(1, g.MaxAbs()))
}

func TestQ_ExactDelays(t *testing.T) {
	p := newTestData(t)
	q, err := p.Q(p.Ndlys() / 2)
	require.NoError(t, err)
	assert.True(t, linalg.EqualApprox(linalg.Ones(16, 16), q, 1e-12), "zero delay response is flat")
}
