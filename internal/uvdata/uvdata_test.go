package uvdata

import (
	"errors"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPolStrToNum(t *testing.T) {
	tests := []struct {
		in   string
		want Pol
	}{
		{"pI", PolI},
		{"I", PolI},
		{"XX", PolXX},
		{"yy", PolYY},
		{"rl", PolRL},
		{"ee", PolXX},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PolStrToNum(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := PolStrToNum("zz")
	assert.Error(t, err)

	s, err := PolNumToStr(-5)
	require.NoError(t, err)
	assert.Equal(t, "xx", s)
	assert.True(t, PolQ.IsPseudoStokes())
	assert.False(t, PolXX.IsPseudoStokes())
}

func TestPol_UnmarshalYAML(t *testing.T) {
	var v struct {
		Pols []Pol `yaml:"pols"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("pols: [xx, -6, pI]\n"), &v))
	assert.Equal(t, []Pol{PolXX, PolYY, PolI}, v.Pols)

	assert.Error(t, yaml.Unmarshal([]byte("pols: [42]\n"), &v))
}

func TestSimulate(t *testing.T) {
	d, err := Simulate(SimulateOptions{
		Label:        "sim",
		Antpairs:     []Antpair{{Ant1: 24, Ant2: 25}, {Ant1: 37, Ant2: 38}},
		Pols:         []Pol{PolXX, PolYY},
		NoiseAmp:     1,
		SignalAmp:    1,
		FlagChannels: []int{3},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, d.Ntimes())
	assert.Equal(t, 50, d.Nfreqs())
	assert.Equal(t, []Antpair{{24, 25}, {37, 38}}, d.Antpairs())
	assert.True(t, d.HasPol(PolYY))

	w, err := d.Waterfall(Antpair{Ant1: 24, Ant2: 25}, PolXX)
	require.NoError(t, err)
	assert.True(t, w.Flags[0][3])
	assert.False(t, w.Flags[0][4])

	t.Run("reversed baseline is conjugated", func(t *testing.T) {
		r, err := d.Waterfall(Antpair{Ant1: 25, Ant2: 24}, PolXX)
		require.NoError(t, err)
		assert.Equal(t, cmplx.Conj(w.Data[2][7]), r.Data[2][7])
		assert.True(t, d.Has(Antpair{Ant1: 25, Ant2: 24}, PolXX))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := d.Waterfall(Antpair{Ant1: 1, Ant2: 2}, PolXX)
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})

	t.Run("common signal across seeds", func(t *testing.T) {
		d2, err := Simulate(SimulateOptions{Label: "sim2", Seed: 99, SignalAmp: 1})
		require.NoError(t, err)
		d3, err := Simulate(SimulateOptions{Label: "sim3", Seed: 7, SignalAmp: 1})
		require.NoError(t, err)
		w2, _ := d2.Waterfall(Antpair{Ant1: 0, Ant2: 1}, PolXX)
		w3, _ := d3.Waterfall(Antpair{Ant1: 0, Ant2: 1}, PolXX)
		assert.Equal(t, w2.Data, w3.Data)
	})

	t.Run("baseline vector", func(t *testing.T) {
		v, err := d.BaselineVector(Antpair{Ant1: 24, Ant2: 25})
		require.NoError(t, err)
		assert.InDelta(t, 14.6, v[0], 1e-9)
	})
}

func TestDataset_ValidateAndSelect(t *testing.T) {
	d, err := Simulate(SimulateOptions{Label: "sim", Antpairs: []Antpair{{0, 1}, {1, 2}}, Pols: []Pol{PolXX, PolYY}})
	require.NoError(t, err)

	s := d.Select([]Antpair{{2, 1}}, []Pol{PolYY})
	assert.Equal(t, []Antpair{{1, 2}}, s.Antpairs())
	assert.Equal(t, []Pol{PolYY}, s.Pols)
	assert.Len(t, d.Antpairs(), 2, "select must not mutate the source")

	bad := d.Copy()
	bad.LSTs = bad.LSTs[:3]
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidDataset))

	t.Run("select times", func(t *testing.T) {
		c := d.Copy()
		require.NoError(t, c.SelectTimes([]int{1, 3}))
		assert.Equal(t, []float64{d.Times[1], d.Times[3]}, c.Times)
		require.NoError(t, c.Validate())
		w, _ := d.Waterfall(Antpair{Ant1: 0, Ant2: 1}, PolXX)
		cw, _ := c.Waterfall(Antpair{Ant1: 0, Ant2: 1}, PolXX)
		assert.Equal(t, w.Data[3], cw.Data[1])
		assert.True(t, errors.Is(c.SelectTimes([]int{5}), ErrKeyNotFound))
	})
}

func TestSpwRangeFromFreqs(t *testing.T) {
	freqs := make([]float64, 100)
	for i := range freqs {
		freqs[i] = 100e6 + float64(i)*1e6
	}

	got, err := SpwRangeFromFreqs(freqs, []FreqRange{{Min: 110e6, Max: 120e6}, {Min: 150.5e6, Max: 151e6}}, true)
	require.NoError(t, err)
	assert.Equal(t, []SpwRange{{Start: 10, End: 20}, {}}, got)
	assert.Equal(t, 10, got[0].Len())

	_, err = SpwRangeFromFreqs(freqs, []FreqRange{{Min: 90e6, Max: 120e6}}, true)
	assert.True(t, errors.Is(err, ErrOutOfBand))

	got, err = SpwRangeFromFreqs(freqs, []FreqRange{{Min: 90e6, Max: 102e6}}, false)
	require.NoError(t, err)
	assert.Equal(t, SpwRange{Start: 0, End: 2}, got[0])

	_, err = SpwRangeFromFreqs(freqs, []FreqRange{{Min: 120e6, Max: 110e6}}, true)
	assert.Error(t, err)
}

func TestSpwRangeFromRedshifts(t *testing.T) {
	freqs := make([]float64, 100)
	for i := range freqs {
		freqs[i] = 100e6 + float64(i)*1e6
	}
	got, err := SpwRangeFromRedshifts(freqs, [][2]float64{{8, 9}}, true)
	require.NoError(t, err)
	// z in (8, 9] is 142.04 MHz to 157.82 MHz
	assert.Equal(t, SpwRange{Start: 43, End: 58}, got[0])
}

func TestConstructBlpairs(t *testing.T) {
	bls := []Antpair{{1, 2}, {2, 3}, {3, 4}}

	tests := []struct {
		name  string
		opts  BlpairOptions
		want1 []Antpair
		want2 []Antpair
	}{
		{
			name:  "permutations with autos",
			opts:  BlpairOptions{},
			want1: []Antpair{{1, 2}, {1, 2}, {2, 3}, {2, 3}, {3, 4}, {3, 4}, {1, 2}, {2, 3}, {3, 4}},
			want2: []Antpair{{2, 3}, {3, 4}, {1, 2}, {3, 4}, {1, 2}, {2, 3}, {1, 2}, {2, 3}, {3, 4}},
		},
		{
			name:  "combinations without autos",
			opts:  BlpairOptions{ExcludeAutoBls: true, ExcludePermutations: true},
			want1: []Antpair{{1, 2}, {1, 2}, {2, 3}},
			want2: []Antpair{{2, 3}, {3, 4}, {3, 4}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b1, b2 := ConstructBlpairs(bls, tt.opts)
			assert.Equal(t, tt.want1, b1)
			assert.Equal(t, tt.want2, b2)
		})
	}
}

func TestRedundantGroups(t *testing.T) {
	vecs := map[Antpair][3]float64{
		{0, 1}: {14.6, 0, 0},
		{1, 2}: {14.7, 0.1, 0},
		{0, 2}: {29.2, 0, 0},
		{0, 3}: {0, 14.6, 0},
	}
	groups := RedundantGroups(vecs, 1.0)
	require.Len(t, groups, 3)

	assert.Equal(t, "015_000", groups[0].Tag)
	assert.Equal(t, []Antpair{{0, 1}, {1, 2}}, groups[0].Baselines)
	assert.Equal(t, "015_090", groups[1].Tag)
	assert.Equal(t, "029_000", groups[2].Tag)
}
