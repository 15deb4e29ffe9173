package uvpspec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

func TestBlpairEncoding(t *testing.T) {
	tests := []struct {
		bl1, bl2 uvdata.Antpair
		want     int64
	}{
		{uvdata.Antpair{Ant1: 24, Ant2: 25}, uvdata.Antpair{Ant1: 37, Ant2: 38}, 24025037038},
		{uvdata.Antpair{Ant1: 1, Ant2: 2}, uvdata.Antpair{Ant1: 1, Ant2: 2}, 1002001002},
		{uvdata.Antpair{Ant1: 999, Ant2: 0}, uvdata.Antpair{Ant1: 0, Ant2: 999}, 999000000999},
	}
	for _, tt := range tests {
		t.Run(tt.bl1.String()+tt.bl2.String(), func(t *testing.T) {
			got, err := AntnumsToBlpair(tt.bl1, tt.bl2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			a, b := BlpairToAntnums(got)
			assert.Equal(t, tt.bl1, a)
			assert.Equal(t, tt.bl2, b)

			bl1, bl2 := BlpairToBls(got)
			assert.Equal(t, tt.bl1, BlToAntnums(bl1))
			assert.Equal(t, tt.bl2, BlToAntnums(bl2))

			conj, err := AntnumsToBlpair(tt.bl2, tt.bl1)
			require.NoError(t, err)
			assert.Equal(t, conj, ConjBlpair(got))
		})
	}

	_, err := AntnumsToBl(uvdata.Antpair{Ant1: 1000, Ant2: 1})
	assert.Error(t, err)
	_, err = AntnumsToBlpair(uvdata.Antpair{Ant1: 1, Ant2: 2}, uvdata.Antpair{Ant1: -1, Ant2: 2})
	assert.Error(t, err)
}

func TestPolpairEncoding(t *testing.T) {
	pp := [2]uvdata.Pol{uvdata.PolXX, uvdata.PolYY}
	v := PolpairTupleToInt(pp)
	assert.Equal(t, 1514, v)
	assert.Equal(t, pp, PolpairIntToTuple(v))
	assert.Equal(t, "xx,yy", PolpairString(v))

	assert.Equal(t, 2121, PolpairTupleToInt([2]uvdata.Pol{uvdata.PolI, uvdata.PolI}))
}

// testSpectrum builds two baseline pairs over three times with a single
// polarisation pair. Spectra equal time index + 1.
func testSpectrum(t *testing.T, withCov bool) *UVPSpec {
	t.Helper()
	const ntimes = 3
	vec := [3]float64{14.6, 0, 0}
	mk := func(a, b uvdata.Antpair, lstStart float64) Blpair {
		blp, err := AntnumsToBlpair(a, b)
		require.NoError(t, err)
		bl1, _ := AntnumsToBl(a)
		bl2, _ := AntnumsToBl(b)
		bp := Blpair{Blpair: blp, Bl1: bl1, Bl2: bl2, Vec1: vec, Vec2: vec}
		for i := 0; i < ntimes; i++ {
			bp.Time1 = append(bp.Time1, 2458042.1+float64(i)*1e-4)
			bp.Time2 = append(bp.Time2, 2458042.1+float64(i)*1e-4)
			bp.LST1 = append(bp.LST1, wrap2Pi(lstStart+float64(i)*0.01))
			bp.LST2 = append(bp.LST2, wrap2Pi(lstStart+float64(i)*0.01))
		}
		return bp
	}
	blpairs := []Blpair{
		mk(uvdata.Antpair{Ant1: 24, Ant2: 25}, uvdata.Antpair{Ant1: 37, Ant2: 38}, 1),
		mk(uvdata.Antpair{Ant1: 37, Ant2: 38}, uvdata.Antpair{Ant1: 24, Ant2: 25}, 2*math.Pi-0.01),
	}

	b, err := NewBuilder(ntimes, blpairs, withCov)
	require.NoError(t, err)
	spw := Spw{Delays: []float64{-2e-7, 0, 2e-7, 4e-7}, Freqs: []float64{150e6, 151e6, 152e6, 153e6}}
	pp := []int{PolpairTupleToInt([2]uvdata.Pol{uvdata.PolXX, uvdata.PolXX})}
	s, err := b.AddSpw(spw, pp, []float64{1})
	require.NoError(t, err)

	for k := range blpairs {
		rec := Record{
			Data:         make([][]complex128, ntimes),
			Wgts:         make([][][2]float64, ntimes),
			Integrations: make([]float64, ntimes),
			Nsamples:     make([]float64, ntimes),
		}
		if withCov {
			rec.Cov = make([][][]complex128, ntimes)
		}
		for ti := 0; ti < ntimes; ti++ {
			rec.Data[ti] = make([]complex128, 4)
			for d := range rec.Data[ti] {
				rec.Data[ti][d] = complex(float64(ti+1), 0)
			}
			rec.Wgts[ti] = make([][2]float64, 4)
			for f := range rec.Wgts[ti] {
				rec.Wgts[ti][f] = [2]float64{1, 1}
			}
			rec.Integrations[ti] = 10
			rec.Nsamples[ti] = 1
			if withCov {
				rec.Cov[ti] = make([][]complex128, 4)
				for d := range rec.Cov[ti] {
					rec.Cov[ti][d] = make([]complex128, 4)
					rec.Cov[ti][d][d] = 1
				}
			}
		}
		require.NoError(t, b.Set(s, 0, k, rec))
	}
	b.Meta().NormUnits = "Mpc^3"
	u, err := b.Build()
	require.NoError(t, err)
	return u
}

func TestBuilder(t *testing.T) {
	u := testSpectrum(t, true)
	assert.Equal(t, 1, u.Nspws())
	assert.Equal(t, 6, u.Nblpairts())
	assert.Equal(t, 2, u.Nblpairs())
	assert.Equal(t, 2, u.Nbls())
	assert.Equal(t, []int64{24025, 37038}, u.Bls)
	assert.True(t, u.HasCov())
	assert.InDelta(t, 1.0, u.LSTAvg[0], 1e-12)
	assert.InDelta(t, (u.Time1[1]+u.Time2[1])/2, u.TimeAvg[1], 1e-12)

	blp := u.GetBlpairs()[1]
	assert.Equal(t, []int{3, 4, 5}, u.BlpairIndices(blp))

	data, err := u.GetData(0, blp, u.Polpairs[0])
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, complex(2, 0), data[1][0])

	cov, err := u.GetCov(0, blp, u.Polpairs[0])
	require.NoError(t, err)
	assert.Equal(t, complex(1, 0), cov[0][2][2])

	wgts, err := u.GetWgts(0, blp, u.Polpairs[0])
	require.NoError(t, err)
	assert.Equal(t, [2]float64{1, 1}, wgts[2][3])

	ints, err := u.GetIntegrations(0, blp, u.Polpairs[0])
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10, 10}, ints)

	_, err = u.GetData(1, blp, u.Polpairs[0])
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = u.GetData(0, 42, u.Polpairs[0])
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = u.GetData(0, blp, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	t.Run("no covariance", func(t *testing.T) {
		u := testSpectrum(t, false)
		_, err := u.GetCov(0, u.GetBlpairs()[0], u.Polpairs[0])
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBuilder_Errors(t *testing.T) {
	_, err := NewBuilder(0, []Blpair{{}}, false)
	assert.ErrorIs(t, err, ErrInconsistent)

	_, err = NewBuilder(2, []Blpair{{Blpair: 1, Time1: []float64{1}}}, false)
	assert.ErrorIs(t, err, ErrInconsistent)

	bp := Blpair{Blpair: 1001002, Bl1: 1, Bl2: 2, Time1: []float64{1}, Time2: []float64{1}, LST1: []float64{1}, LST2: []float64{1}}
	b, err := NewBuilder(1, []Blpair{bp}, false)
	require.NoError(t, err)
	_, err = b.AddSpw(Spw{Delays: []float64{0}, Freqs: []float64{1}}, []int{1515}, nil)
	assert.ErrorIs(t, err, ErrInconsistent)

	s, err := b.AddSpw(Spw{Delays: []float64{0}, Freqs: []float64{1}}, []int{1515}, []float64{1})
	require.NoError(t, err)
	_, err = b.AddSpw(Spw{Delays: []float64{0}, Freqs: []float64{1}}, []int{1616}, []float64{1})
	assert.ErrorIs(t, err, ErrInconsistent)

	err = b.Set(s, 0, 0, Record{Data: [][]complex128{{1, 2}}, Wgts: [][][2]float64{{{1, 1}}}, Integrations: []float64{1}, Nsamples: []float64{1}})
	assert.ErrorIs(t, err, ErrInconsistent)
	err = b.Set(s, 3, 0, Record{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheck(t *testing.T) {
	u := testSpectrum(t, false)
	require.NoError(t, u.Check())

	broken := *u
	broken.LST1 = broken.LST1[:2]
	assert.ErrorIs(t, broken.Check(), ErrInconsistent)

	broken = *u
	broken.Bls = broken.Bls[:1]
	broken.BlVecs = broken.BlVecs[:1]
	assert.ErrorIs(t, broken.Check(), ErrInconsistent)
}

func TestAverageTime(t *testing.T) {
	u := testSpectrum(t, true)
	avg, err := u.AverageTime()
	require.NoError(t, err)

	assert.Equal(t, 1, avg.Ntimes)
	assert.Equal(t, 2, avg.Nblpairts())
	assert.False(t, avg.HasCov())
	assert.Equal(t, complex(2, 0), avg.Data[0][0][1][0])
	assert.Equal(t, 3.0, avg.Nsamples[0][0][0])
	assert.InDelta(t, 10, avg.Integrations[0][0][0], 1e-12)
	assert.InDelta(t, 1.0, avg.Wgts[0][1][2][0][0], 1e-12)
	assert.InDelta(t, 1.01, avg.LST1[0], 1e-12)
	offset := math.Mod(avg.LST1[1]+math.Pi, 2*math.Pi) - math.Pi
	assert.InDelta(t, 0.0, offset, 1e-9, "mean taken across the wrap")
	assert.Contains(t, avg.History, "Averaged over time")

	// the original is untouched
	assert.Equal(t, 6, u.Nblpairts())
}

func TestUnwrap(t *testing.T) {
	got := Unwrap([]float64{6.2, 0.1, 0.2})
	assert.InDelta(t, 0.1+2*math.Pi, got[1], 1e-12)
	assert.InDelta(t, 0.2+2*math.Pi, got[2], 1e-12)
	assert.Equal(t, []float64{1, 2}, Unwrap([]float64{1, 2}))
}

func TestKparasKperps(t *testing.T) {
	u := testSpectrum(t, false)

	kp, err := u.Kparas(0, true)
	require.NoError(t, err)
	require.Len(t, kp, 4)
	assert.Zero(t, kp[1])
	assert.InDelta(t, -kp[0], kp[2], 1e-12)
	assert.Positive(t, kp[2])

	kpNoH, err := u.Kparas(0, false)
	require.NoError(t, err)
	assert.Greater(t, kp[2], kpNoH[2])

	kperp, err := u.Kperps(0, true)
	require.NoError(t, err)
	require.Len(t, kperp, 6)
	assert.Positive(t, kperp[0])
	assert.Equal(t, kperp[0], kperp[5])

	_, err = u.Kparas(3, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConvertToDeltaSq(t *testing.T) {
	u := testSpectrum(t, false)
	before := u.Data[0][0][1][0]
	require.NoError(t, u.ConvertToDeltaSq(true))

	kperp, err := u.Kperps(0, true)
	require.NoError(t, err)
	want := before * complex(math.Pow(kperp[0], 3)/(2*math.Pi*math.Pi), 0)
	assert.InDelta(t, real(want), real(u.Data[0][0][1][0]), 1e-12*real(want))
	assert.Contains(t, u.NormUnits, "k^3")
}
