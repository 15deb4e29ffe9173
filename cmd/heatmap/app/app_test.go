package app

import (
	"context"
	"flag"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/oqe"
	"github.com/roman-kulish/radio-pspec/internal/storage"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// storeSpectrum writes a two spw spectrum of two baseline pairs over three
// times into a fresh database and returns its path.
func storeSpectrum(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	bl1 := uvdata.Antpair{Ant1: 24, Ant2: 25}
	bl2 := uvdata.Antpair{Ant1: 37, Ant2: 38}

	var dsets []*uvdata.Dataset
	for i, label := range []string{"a", "b"} {
		d, err := uvdata.Simulate(uvdata.SimulateOptions{
			Label:     label,
			Ntimes:    3,
			Nfreqs:    16,
			Antpairs:  []uvdata.Antpair{bl1, bl2},
			Pols:      []uvdata.Pol{uvdata.PolXX},
			NoiseAmp:  1,
			SignalAmp: 2,
			Seed:      int64(i + 1),
		})
		require.NoError(t, err)
		dsets = append(dsets, d)
	}

	p, err := oqe.New(dsets)
	require.NoError(t, err)
	uvp, err := p.PSpec(ctx, oqe.PSpecOptions{
		Bls1:  []uvdata.Antpair{bl1, bl2},
		Bls2:  []uvdata.Antpair{bl2, bl1},
		Dsets: [2]int{0, 1},
		Pols:  [][2]uvdata.Pol{{uvdata.PolXX, uvdata.PolXX}},
		Spws:  []uvdata.SpwRange{{Start: 0, End: 8}, {Start: 8, End: 16}},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pspec.db")
	store := storage.NewSqliteStore(path)
	require.NoError(t, store.SetPSpec(ctx, "a_b", "a_x_b", uvp, false))
	require.NoError(t, store.Close())
	return path
}

func TestRun(t *testing.T) {
	db := storeSpectrum(t)
	out := filepath.Join(t.TempDir(), "heatmap")

	tests := []struct {
		name string
		args []string
	}{
		{name: "defaults", args: []string{"-db", db, "-g", "a_b", "-n", "a_x_b", "-o", out}},
		{name: "second spw jpeg", args: []string{"-db", db, "-g", "a_b", "-n", "a_x_b", "-o", out, "-f", "jpeg", "-spw", "1", "-theme", "thermal"}},
		{name: "bare", args: []string{"-db", db, "-g", "a_b", "-n", "a_x_b", "-o", out, "-no-annotations", "-min-power", "-10", "-max-power", "40"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := NewConfigFromArgs(flag.NewFlagSet("heatmap", flag.ContinueOnError), tt.args)
			require.NoError(t, err)
			require.NoError(t, Run(context.Background(), config, discard))

			info, err := os.Stat(config.OutputFile)
			require.NoError(t, err)
			assert.Positive(t, info.Size())
		})
	}

	t.Run("image size", func(t *testing.T) {
		config, err := NewConfigFromArgs(flag.NewFlagSet("heatmap", flag.ContinueOnError),
			[]string{"-db", db, "-g", "a_b", "-n", "a_x_b", "-o", out, "-no-annotations", "-cell-width", "2", "-cell-height", "3"})
		require.NoError(t, err)
		require.NoError(t, Run(context.Background(), config, discard))

		f, err := os.Open(config.OutputFile)
		require.NoError(t, err)
		defer f.Close()
		img, err := png.Decode(f)
		require.NoError(t, err)

		// 8 delays by 2 blpairs x 3 times
		assert.Equal(t, 8*2, img.Bounds().Dx())
		assert.Equal(t, 6*3, img.Bounds().Dy())
	})

	t.Run("missing database", func(t *testing.T) {
		config := NewConfig()
		config.DBPath = filepath.Join(t.TempDir(), "missing.db")
		assert.Error(t, Run(context.Background(), config, discard))
	})

	t.Run("unknown spectrum", func(t *testing.T) {
		config := NewConfig()
		config.DBPath, config.Group, config.Name = db, "a_b", "nope"
		config.OutputFile = out + ".png"
		assert.ErrorIs(t, Run(context.Background(), config, discard), storage.ErrNoData)
	})

	t.Run("polpair out of range", func(t *testing.T) {
		config := NewConfig()
		config.DBPath, config.Group, config.Name = db, "a_b", "a_x_b"
		config.OutputFile = out + ".png"
		config.Polpair = 3
		assert.Error(t, Run(context.Background(), config, discard))
	})
}

func TestNewConfigFromArgs(t *testing.T) {
	base := []string{"-db", "x.db", "-g", "grp", "-n", "name", "-o", "out"}

	config, err := NewConfigFromArgs(flag.NewFlagSet("heatmap", flag.ContinueOnError),
		append(base, "-f", "JPEG", "-blpair", "24025037038", "-min-lst", "6", "-max-lst", "0.5"))
	require.NoError(t, err)
	assert.Equal(t, ImageJPEG, config.Format)
	assert.Equal(t, "out.jpeg", config.OutputFile)
	require.NotNil(t, config.Blpair)
	assert.Equal(t, int64(24025037038), *config.Blpair)
	require.NotNil(t, config.MinLST)
	assert.Equal(t, 6.0, *config.MinLST)
	assert.Nil(t, config.MinPower)
	assert.Equal(t, defaultCellWidth, config.CellWidth)

	invalid := map[string][]string{
		"no db":           {"-g", "grp", "-n", "name", "-o", "out"},
		"no name":         {"-db", "x.db", "-g", "grp", "-o", "out"},
		"bad format":      append(base, "-f", "gif"),
		"bad theme":       append(base, "-theme", "neon"),
		"half LST range":  append(base, "-min-lst", "1"),
		"inverted power":  append(base, "-min-power", "10", "-max-power", "5"),
		"zero cell width": append(base, "-cell-width", "0"),
	}
	for name, args := range invalid {
		t.Run(name, func(t *testing.T) {
			fs := flag.NewFlagSet("heatmap", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			_, err := NewConfigFromArgs(fs, args)
			assert.Error(t, err)
		})
	}
}

func TestPowerTracker(t *testing.T) {
	const units = "(Jy)^2 Hz str"
	levels := func(n int, lo, hi float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
		}
		return out
	}

	tests := []struct {
		name       string
		levels     []float64
		wantMin    float64
		wantMax    float64
		wantMedian float64
		delta      float64
	}{
		{
			name:       "no levels",
			wantMin:    defaultMinPower,
			wantMax:    defaultMaxPower,
			wantMedian: 0,
		},
		{
			name:       "flat",
			levels:     levels(50, 42, 42),
			wantMin:    42 - minimumRange/2*(1+2*marginFraction),
			wantMax:    42 + minimumRange/2*(1+2*marginFraction),
			wantMedian: 42,
			delta:      1e-9,
		},
		{
			name:       "few levels",
			levels:     []float64{-20, 0, 20},
			wantMin:    -20 - 40*marginFraction,
			wantMax:    20 + 40*marginFraction,
			wantMedian: 0,
			delta:      1e-9,
		},
		{
			name:       "twelve decades",
			levels:     levels(1001, -60, 60),
			wantMin:    -60 + 120*lowPercentile - 120*(highPercentile-lowPercentile)*marginFraction,
			wantMax:    -60 + 120*highPercentile + 120*(highPercentile-lowPercentile)*marginFraction,
			wantMedian: 0,
			delta:      1,
		},
		{
			name:       "narrow band",
			levels:     levels(400, 3.0, 3.2),
			wantMin:    3.1 - minimumRange/2*(1+2*marginFraction),
			wantMax:    3.1 + minimumRange/2*(1+2*marginFraction),
			wantMedian: 3.1,
			delta:      0.01,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewPowerTracker()
			tr.Add(0, 1515, units, nil)
			for _, v := range tt.levels {
				tr.Add(0, 1515, units, &v)
			}
			assert.Equal(t, len(tt.levels), tr.Count(0, 1515))

			b := tr.Bounds(0, 1515)
			assert.Equal(t, units, b.Units)
			assert.Equal(t, len(tt.levels), b.Samples)
			assert.InDelta(t, tt.wantMin, b.Min, tt.delta)
			assert.InDelta(t, tt.wantMax, b.Max, tt.delta)
			assert.InDelta(t, tt.wantMedian, b.Median, tt.delta)
			assert.GreaterOrEqual(t, b.Max-b.Min, minimumRange)
		})
	}

	t.Run("groups", func(t *testing.T) {
		tr := NewPowerTracker()
		for _, v := range levels(100, 80, 100) {
			tr.Add(0, 1515, "mK^2 Mpc^3", &v)
		}
		for _, v := range levels(100, -100, -80) {
			tr.Add(1, 1515, "mK^2 Mpc^3", &v)
		}
		for _, v := range levels(100, 0, 5) {
			tr.Add(0, 1616, "Jy^2", &v)
		}

		low, high := tr.Bounds(1, 1515), tr.Bounds(0, 1515)
		assert.Less(t, low.Max, high.Min)
		assert.InDelta(t, 90, high.Median, 0.5)
		assert.InDelta(t, -90, low.Median, 0.5)
		assert.Equal(t, "Jy^2", tr.Bounds(0, 1616).Units)
		assert.Equal(t, defaultPowerBounds(""), tr.Bounds(2, 1515))
	})
}

func TestDelaySpectrum_Bounds(t *testing.T) {
	meta := &uvpspec.UVPSpec{
		Spws:      []uvpspec.Spw{{Delays: []float64{-1e-7, 0, 1e-7}, Freqs: []float64{1e8, 1.1e8}}},
		Polpairs:  []int{1515},
		VisUnits:  "Jy",
		NormUnits: "Hz str",
	}
	s, err := NewDelaySpectrum(meta, 0, 0, NewPowerTracker())
	require.NoError(t, err)
	assert.Equal(t, "(Jy)^2 Hz str", s.Units)

	for i := 0; i < 10; i++ {
		p := complex(math.Pow(10, float64(i)), 0)
		s.Update(&storage.SpectrumRow{Data: [][]complex128{{p}, {0}, {p * 10}}}, 0)
	}
	assert.Equal(t, 20, s.Levels.Count(0, 1515))

	b := s.Bounds()
	assert.Equal(t, s.Units, b.Units)
	assert.Less(t, b.Min, 10.0)
	assert.Greater(t, b.Max, 90.0)

	lo, hi := -5.0, 5.0
	s.MinPower, s.MaxPower = &lo, &hi
	b = s.Bounds()
	assert.Equal(t, lo, b.Min)
	assert.Equal(t, hi, b.Max)
}

func TestColorMapper(t *testing.T) {
	for theme := range validColorThemes {
		t.Run(string(theme), func(t *testing.T) {
			cm := NewColorMapper(theme, PowerBounds{Min: 0, Max: 100})
			assert.Equal(t, theme, cm.ThemeName())
			assert.Equal(t, DefaultColorMapSize, cm.Size())

			low, over, under := 0.0, 1e6, -1e6
			assert.Equal(t, cm.colorMap[0], cm.GetColor(&low))
			assert.Equal(t, cm.colorMap[0], cm.GetColor(&under))
			assert.Equal(t, cm.colorMap[cm.Size()-1], cm.GetColor(&over))
			assert.NotEqual(t, cm.GetColor(&low), cm.GetColor(&over))
			assert.Equal(t, noDataColor, cm.GetColor(nil))
		})
	}

	t.Run("flat bounds", func(t *testing.T) {
		cm := NewColorMapperWithSize(ClassicTheme, PowerBounds{Min: 5, Max: 5}, 16)
		v := 5.0
		assert.Equal(t, cm.colorMap[8], cm.GetColor(&v))
	})
}

func TestToDecibels(t *testing.T) {
	assert.Nil(t, toDecibels(0))
	assert.Nil(t, toDecibels(complex(math.NaN(), 0)))
	assert.Nil(t, toDecibels(complex(math.Inf(1), 0)))

	db := toDecibels(complex(0, -100))
	require.NotNil(t, db)
	assert.InDelta(t, 20, *db, 1e-12)
}

func TestNiceStep(t *testing.T) {
	tests := []struct {
		span, count, want float64
	}{
		{span: 1000, count: 5, want: 200},
		{span: 1000, count: 3, want: 500},
		{span: 90, count: 9, want: 10},
		{span: 0, count: 4, want: 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, niceStep(tt.span, tt.count))
	}
}
