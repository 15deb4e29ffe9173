package oqe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

func waterfall(d *uvdata.Dataset, ap uvdata.Antpair) *uvdata.Waterfall {
	return d.Waterfalls[uvdata.BlPol{Antpair: ap, Pol: uvdata.PolXX}]
}

func TestBroadcastDsetFlags(t *testing.T) {
	tests := []struct {
		name   string
		flag   func(w *uvdata.Waterfall)
		thresh float64
		unflag bool
		check  func(t *testing.T, w *uvdata.Waterfall)
	}{
		{
			name:   "sparse flag spreads over the window",
			flag:   func(w *uvdata.Waterfall) { w.Flags[1][5] = true },
			thresh: 0.5,
			check: func(t *testing.T, w *uvdata.Waterfall) {
				for f := 0; f < 16; f++ {
					assert.True(t, w.Flags[1][f], "channel %d", f)
					assert.False(t, w.Flags[0][f], "channel %d", f)
				}
			},
		},
		{
			name: "persistent channel is flagged at all times",
			flag: func(w *uvdata.Waterfall) {
				w.Flags[0][7] = true
				w.Flags[1][7] = true
			},
			thresh: 0.2,
			check: func(t *testing.T, w *uvdata.Waterfall) {
				for ti := range w.Flags {
					assert.True(t, w.Flags[ti][7])
					assert.False(t, w.Flags[ti][6])
				}
			},
		},
		{
			name: "fully flagged times are ignored",
			flag: func(w *uvdata.Waterfall) {
				for f := range w.Flags[2] {
					w.Flags[2][f] = true
				}
			},
			thresh: 0.2,
			check: func(t *testing.T, w *uvdata.Waterfall) {
				for f := 0; f < 16; f++ {
					assert.False(t, w.Flags[0][f])
					assert.True(t, w.Flags[2][f])
				}
			},
		},
		{
			name:   "unflag",
			flag:   func(w *uvdata.Waterfall) { w.Flags[3][4] = true },
			unflag: true,
			check: func(t *testing.T, w *uvdata.Waterfall) {
				assert.False(t, w.Flags[3][4])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d1 := simulate(t, "a", 1)
			w := waterfall(d1, bl1)
			tt.flag(w)
			orig := cloneFlags(w.Flags)

			p, err := New([]*uvdata.Dataset{d1, simulate(t, "b", 2)})
			require.NoError(t, err)
			require.NoError(t, p.BroadcastDsetFlags(nil, tt.thresh, tt.unflag))
			tt.check(t, w)

			p.RestoreFlags()
			assert.Equal(t, orig, waterfall(d1, bl1).Flags)
		})
	}

	t.Run("window with extension", func(t *testing.T) {
		d1 := simulate(t, "a", 1)
		waterfall(d1, bl1).Flags[0][1] = true
		p, err := New([]*uvdata.Dataset{d1, simulate(t, "b", 2)})
		require.NoError(t, err)
		require.NoError(t, p.SetSpw(uvdata.SpwRange{Start: 4, End: 10}))
		require.NoError(t, p.SetFilterExtension(3, 2))

		spw := uvdata.SpwRange{Start: 4, End: 10}
		require.NoError(t, p.BroadcastDsetFlags([]uvdata.SpwRange{spw}, 0.5, false))
		flags := waterfall(d1, bl1).Flags[0]
		assert.True(t, flags[1])
		assert.True(t, flags[11])
		assert.False(t, flags[12])
		assert.False(t, flags[0])
	})

	t.Run("window outside band", func(t *testing.T) {
		p := newTestData(t)
		err := p.BroadcastDsetFlags([]uvdata.SpwRange{{Start: 10, End: 30}}, 0.2, false)
		assert.True(t, IsConfigError(err))
	})
}

func TestTrimDsetLSTs(t *testing.T) {
	d1, d2 := simulate(t, "a", 1), simulate(t, "b", 2)
	step := d1.LSTs[1] - d1.LSTs[0]
	last := d1.LSTs[len(d1.LSTs)-1]
	d2.LSTs = append(append([]float64(nil), d1.LSTs[2:]...), last+step, last+2*step)

	p, err := New([]*uvdata.Dataset{d1, d2})
	require.NoError(t, err)
	require.NoError(t, p.TrimDsetLSTs(DefaultLSTTol))

	assert.Equal(t, 2, d1.Ntimes())
	assert.Equal(t, 2, d2.Ntimes())
	assert.Equal(t, d1.LSTs, d2.LSTs)
	assert.Len(t, waterfall(d1, bl1).Data, 2)

	t.Run("different spacing", func(t *testing.T) {
		a, b := simulate(t, "a", 1), simulate(t, "b", 2)
		for i := range b.LSTs {
			b.LSTs[i] = a.LSTs[0] + 3*float64(i)*step
		}
		p, err := New([]*uvdata.Dataset{a, b})
		require.NoError(t, err)
		require.NoError(t, p.TrimDsetLSTs(DefaultLSTTol))
		assert.Equal(t, 4, a.Ntimes())
		assert.True(t, p.HasWarning(WarnLSTMisaligned))
	})
}

func TestJyToMK(t *testing.T) {
	d1, d2 := simulate(t, "a", 1), simulate(t, "b", 2)
	d2.VisUnits = "K"
	before := waterfall(d1, bl1).Data[0][3]
	untouched := waterfall(d2, bl1).Data[0][3]

	t.Run("needs beam", func(t *testing.T) {
		p, err := New([]*uvdata.Dataset{d1, d2})
		require.NoError(t, err)
		assert.True(t, IsConfigError(p.JyToMK()))
	})

	p, err := New([]*uvdata.Dataset{d1, d2}, WithBeam(testBeam(t, d1.Freqs)))
	require.NoError(t, err)
	require.NoError(t, p.JyToMK())

	assert.Equal(t, "mK", d1.VisUnits)
	assert.Equal(t, "K", d2.VisUnits)
	assert.True(t, p.HasWarning(WarnUnitsSkipped))
	assert.Equal(t, untouched, waterfall(d2, bl1).Data[0][3])

	got := waterfall(d1, bl1).Data[0][3]
	ratio := real(got) / real(before)
	assert.Positive(t, ratio)
	assert.InDelta(t, ratio, imag(got)/imag(before), 1e-9*ratio)
}
