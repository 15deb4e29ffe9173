package oqe

import (
	"context"
	"encoding/json"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

var xx = [2]uvdata.Pol{uvdata.PolXX, uvdata.PolXX}

func TestPSpec(t *testing.T) {
	d1, d2 := simulate(t, "a", 1), simulate(t, "b", 2)
	p, err := New([]*uvdata.Dataset{d1, d2}, WithBeam(testBeam(t, d1.Freqs)), WithLabels("even", "odd"))
	require.NoError(t, err)

	uvp, err := p.PSpec(context.Background(), PSpecOptions{
		Bls1:    []uvdata.Antpair{bl1, bl2},
		Bls2:    []uvdata.Antpair{bl2, bl1},
		Dsets:   [2]int{0, 1},
		Pols:    [][2]uvdata.Pol{xx},
		Spws:    []uvdata.SpwRange{{Start: 0, End: 8}, {Start: 8, End: 16}},
		Ndlys:   []int{0, 4},
		Taper:   taper.WindowBlackmanHarris,
		LittleH: true,
		History: "unit test",
	})
	require.NoError(t, err)
	require.NoError(t, uvp.Check())

	assert.Equal(t, 2, uvp.Nspws())
	assert.Equal(t, 1, uvp.Npols())
	assert.Equal(t, 2*p.Ntimes(), uvp.Nblpairts())
	assert.Len(t, uvp.Spws[0].Delays, 8)
	assert.Len(t, uvp.Spws[1].Delays, 4)
	assert.Len(t, uvp.Spws[1].Freqs, 8)
	assert.Equal(t, []int{uvpspec.PolpairTupleToInt(xx)}, uvp.Polpairs)
	assert.Equal(t, "h^-3 Mpc^3", uvp.NormUnits)
	assert.Equal(t, []string{"even", "odd"}, uvp.Labels)
	assert.Equal(t, "blackman-harris", uvp.Taper)
	assert.False(t, uvp.HasCov())
	assert.NotNil(t, uvp.Cosmo)
	assert.Contains(t, uvp.History, "unit test")
	assert.Contains(t, uvp.OmegaP, "xx")

	blp, err := uvpspec.AntnumsToBlpair(bl1, bl2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, uvp.BlpairIndices(blp))
	assert.Equal(t, []int64{24025, 37038}, uvp.Bls)
	assert.InDelta(t, -14.6, uvp.BlVecs[0][0], 1e-9)

	for s := range uvp.Spws {
		assert.Positive(t, uvp.Scalars[s][0])
		for _, blpt := range uvp.Data[s] {
			for _, dly := range blpt {
				assert.False(t, cmplx.IsNaN(dly[0]) || cmplx.IsInf(dly[0]))
			}
		}
		assert.Equal(t, 1.0, uvp.Nsamples[s][0][0])
		assert.InDelta(t, 10.737, uvp.Integrations[s][0][0], 1e-9)
		assert.Equal(t, 1.0, uvp.Wgts[s][0][3][0][0])
	}
}

func TestPSpec_DCClosedForm(t *testing.T) {
	const ntimes, nfreqs = 10, 50

	var dsets []*uvdata.Dataset
	for _, label := range []string{"a", "b"} {
		d, err := uvdata.Simulate(uvdata.SimulateOptions{
			Label:     label,
			Ntimes:    ntimes,
			Nfreqs:    nfreqs,
			Antpairs:  []uvdata.Antpair{bl1},
			Pols:      []uvdata.Pol{uvdata.PolXX},
			NoiseAmp:  1,
			SignalAmp: 2,
			Seed:      7,
		})
		require.NoError(t, err)
		dsets = append(dsets, d)
	}
	p, err := New(dsets)
	require.NoError(t, err)

	x, err := p.X(key(0, bl1), false)
	require.NoError(t, err)
	meanSq := make([]float64, ntimes)
	for ti, row := range x {
		var sum complex128
		for _, v := range row {
			sum += v
		}
		mean := sum / nfreqs
		meanSq[ti] = real(mean)*real(mean) + imag(mean)*imag(mean)
	}

	dc := nfreqs / 2
	dlys, err := p.Delays()
	require.NoError(t, err)
	require.Zero(t, dlys[dc])

	q, err := p.QHat([]uvdata.Key{key(0, bl1)}, []uvdata.Key{key(1, bl1)}, false, false, uvdata.PolXX)
	require.NoError(t, err)
	for ti := 0; ti < ntimes; ti++ {
		want := meanSq[ti] * nfreqs * nfreqs / 2
		assert.InDelta(t, want, real(q.At(dc, ti)), 1e-9*want, "time %d", ti)
		assert.InDelta(t, 0, imag(q.At(dc, ti)), 1e-9*want, "time %d", ti)
	}

	uvp, err := p.PSpec(context.Background(), PSpecOptions{
		Bls1:      []uvdata.Antpair{bl1},
		Bls2:      []uvdata.Antpair{bl1},
		Dsets:     [2]int{0, 1},
		Pols:      [][2]uvdata.Pol{xx},
		Weighting: WeightingIdentity,
		Norm:      NormI,
		Taper:     taper.WindowNone,
		Sampling:  true,
	})
	require.NoError(t, err)
	require.NoError(t, uvp.Check())
	assert.Equal(t, 1.0, uvp.Scalars[0][0])
	require.Len(t, uvp.Data[0], ntimes)

	for ti := 0; ti < ntimes; ti++ {
		got := uvp.Data[0][ti][dc][0]
		assert.InDelta(t, meanSq[ti], real(got), 1e-9*meanSq[ti], "time %d", ti)
		assert.InDelta(t, 0, imag(got), 1e-9*meanSq[ti], "time %d", ti)
	}
}

func TestPSpec_Covariance(t *testing.T) {
	tests := []struct {
		name  string
		model CovModel
		norm  Norm
	}{
		{"empirical I", CovEmpirical, NormI},
		{"dsets H^-1", CovDsets, NormHInv},
		{"empirical_pspec V^-1/2", CovEmpiricalPSpec, NormVInvSq},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d1, d2 := simulate(t, "a", 1), simulate(t, "b", 2)
			p, err := New([]*uvdata.Dataset{d1, d2},
				WithStd(uvdata.SimulateStd(d1, 1), uvdata.SimulateStd(d2, 1)))
			require.NoError(t, err)

			uvp, err := p.PSpec(context.Background(), PSpecOptions{
				Bls1:     []uvdata.Antpair{bl1},
				Bls2:     []uvdata.Antpair{bl2},
				Dsets:    [2]int{0, 1},
				Pols:     [][2]uvdata.Pol{xx},
				Ndlys:    []int{8},
				Norm:     tt.norm,
				StoreCov: true,
				CovModel: tt.model,
				Workers:  2,
			})
			require.NoError(t, err)
			require.True(t, uvp.HasCov())
			assert.Equal(t, string(tt.model), uvp.CovModel)
			assert.Len(t, uvp.Cov[0], p.Ntimes())
			assert.Len(t, uvp.Cov[0][0], 8)
			assert.True(t, p.HasWarning(WarnNoBeam))
			assert.Contains(t, uvp.NormUnits, "beam normalization not specified")
		})
	}
}

func TestPSpec_RParams(t *testing.T) {
	rp := RParams{
		FilterCenters:    []float64{0},
		FilterHalfWidths: []float64{200e-9},
		FilterFactors:    []float64{1e-9},
	}
	opts := PSpecOptions{
		Bls1:      []uvdata.Antpair{bl1},
		Bls2:      []uvdata.Antpair{bl2},
		Dsets:     [2]int{0, 1},
		Pols:      [][2]uvdata.Pol{xx},
		Weighting: WeightingDayenu,
	}

	t.Run("missing", func(t *testing.T) {
		p := newTestData(t)
		_, err := p.PSpec(context.Background(), opts)
		assert.True(t, IsConfigError(err))
	})

	t.Run("stored as json", func(t *testing.T) {
		p := newTestData(t)
		opts := opts
		opts.RParams = map[uvdata.Key]RParams{key(0, bl1): rp, key(1, bl2): rp}
		uvp, err := p.PSpec(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, "dayenu", uvp.Weighting)

		var got map[string]RParams
		require.NoError(t, json.Unmarshal([]byte(uvp.RParams), &got))
		assert.Equal(t, rp, got[key(0, bl1).String()])
	})
}

func TestPSpec_Errors(t *testing.T) {
	base := PSpecOptions{
		Bls1:  []uvdata.Antpair{bl1},
		Bls2:  []uvdata.Antpair{bl2},
		Dsets: [2]int{0, 1},
		Pols:  [][2]uvdata.Pol{xx},
	}

	tests := []struct {
		name   string
		modify func(o *PSpecOptions)
		check  func(t *testing.T, err error)
	}{
		{
			name:   "no valid polpair",
			modify: func(o *PSpecOptions) { o.Pols = [][2]uvdata.Pol{{uvdata.PolYY, uvdata.PolYY}} },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoValidPolPair) },
		},
		{
			name:   "L^-1",
			modify: func(o *PSpecOptions) { o.Norm = NormLInv },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrUnsupportedNorm) },
		},
		{
			name: "exact needs I",
			modify: func(o *PSpecOptions) {
				o.Norm = NormHInv
				o.ExactNorm = true
			},
			check: func(t *testing.T, err error) { assert.True(t, IsConfigError(err)) },
		},
		{
			name:   "unequal baseline lists",
			modify: func(o *PSpecOptions) { o.Bls2 = append(o.Bls2, bl1) },
			check:  func(t *testing.T, err error) { assert.True(t, IsConfigError(err)) },
		},
		{
			name:   "dataset out of range",
			modify: func(o *PSpecOptions) { o.Dsets = [2]int{0, 5} },
			check:  func(t *testing.T, err error) { assert.True(t, IsConfigError(err)) },
		},
		{
			name:   "too many delays",
			modify: func(o *PSpecOptions) { o.Ndlys = []int{32} },
			check:  func(t *testing.T, err error) { assert.True(t, IsConfigError(err)) },
		},
		{
			name:   "missing baseline",
			modify: func(o *PSpecOptions) { o.Bls1 = []uvdata.Antpair{{Ant1: 37, Ant2: 24}} },
			check:  func(t *testing.T, err error) { assert.ErrorIs(t, err, uvdata.ErrKeyNotFound) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestData(t)
			opts := base
			tt.modify(&opts)
			_, err := p.PSpec(context.Background(), opts)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	t.Run("cancelled", func(t *testing.T) {
		p := newTestData(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.PSpec(ctx, base)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPSpec_SkipsMissingPol(t *testing.T) {
	p := newTestData(t)
	uvp, err := p.PSpec(context.Background(), PSpecOptions{
		Bls1:  []uvdata.Antpair{bl1},
		Bls2:  []uvdata.Antpair{bl2},
		Dsets: [2]int{0, 1},
		Pols:  [][2]uvdata.Pol{xx, {uvdata.PolYY, uvdata.PolYY}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, uvp.Npols())
	assert.True(t, p.HasWarning(WarnPolSkipped))
}

func TestValidateBlpairs(t *testing.T) {
	t.Run("redundant", func(t *testing.T) {
		p := newTestData(t)
		d := p.Datasets()
		require.NoError(t, p.ValidateBlpairs([][2]uvdata.Antpair{{bl1, bl2}}, d[0], d[1], 1))
		assert.False(t, p.HasWarning(WarnRedundancy))
	})

	t.Run("not redundant", func(t *testing.T) {
		p := newTestData(t)
		d := p.Datasets()
		long := uvdata.Antpair{Ant1: 24, Ant2: 38}
		require.NoError(t, p.ValidateBlpairs([][2]uvdata.Antpair{{bl1, long}}, d[0], d[1], 1))
		assert.True(t, p.HasWarning(WarnRedundancy))
	})

	t.Run("positions disagree", func(t *testing.T) {
		p := newTestData(t)
		d := p.Datasets()
		d[1].AntennaPositions[24] = [3]float64{0, 5, 0}
		err := p.ValidateBlpairs([][2]uvdata.Antpair{{bl1, bl2}}, d[0], d[1], 1)
		assert.True(t, IsConfigError(err))
	})
}

func TestValidatePol(t *testing.T) {
	p := newTestData(t)
	assert.True(t, p.ValidatePol([2]int{0, 1}, xx))
	assert.False(t, p.ValidatePol([2]int{0, 1}, [2]uvdata.Pol{uvdata.PolXX, uvdata.PolYY}))
	assert.False(t, p.ValidatePol([2]int{0, 3}, xx))
}
