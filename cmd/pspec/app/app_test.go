package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/radio-pspec/internal/oqe"
	"github.com/roman-kulish/radio-pspec/internal/storage"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func simulateOptions(label string, seed int64) uvdata.SimulateOptions {
	return uvdata.SimulateOptions{
		Label:    label,
		Ntimes:   3,
		Nfreqs:   16,
		Antpairs: []uvdata.Antpair{{Ant1: 24, Ant2: 25}, {Ant1: 37, Ant2: 38}},
		Pols:     []uvdata.Pol{uvdata.PolXX},
		NoiseAmp: 1,
		Seed:     seed,
	}
}

func newStore(t *testing.T) *storage.SqliteStore {
	t.Helper()
	s := storage.NewSqliteStore(filepath.Join(t.TempDir(), "pspec.db"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runConfig() *RunConfig {
	rc := &RunConfig{
		Datasets: []DatasetConfig{{Label: "a"}, {Label: "b"}, {Label: "c"}},
		Pols:     [][2]uvdata.Pol{{uvdata.PolXX, uvdata.PolXX}},
		Spws:     []uvdata.SpwRange{{Start: 0, End: 8}, {Start: 8, End: 16}},
		Beam:     &BeamConfig{FWHM: 0.1},
		History:  "test run",
	}
	rc.setDefaults()
	return rc
}

func TestRunPSpec(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, simulate(ctx, store, []uvdata.SimulateOptions{
		simulateOptions("a", 1), simulateOptions("b", 2), simulateOptions("c", 3),
	}, false, discard))

	rc := runConfig()
	require.NoError(t, rc.Validate())

	names, err := runPSpec(ctx, store, rc, discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_x_b", "a_x_c", "b_x_c"}, names)

	groups, err := store.Groups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b_c"}, groups)

	uvp, err := store.PSpec(ctx, "a_b_c", "a_x_c")
	require.NoError(t, err)
	assert.Equal(t, 2, uvp.Nspws())
	assert.Equal(t, []string{"a", "b", "c"}, uvp.Labels)
	assert.Equal(t, 0, uvp.Label1)
	assert.Equal(t, 2, uvp.Label2)
	assert.Contains(t, uvp.History, "test run")
	// two cross pairs and two auto pairs, three times each
	assert.Equal(t, 4*3, uvp.Nblpairts())

	t.Run("existing without overwrite", func(t *testing.T) {
		_, err := runPSpec(ctx, store, rc, discard)
		assert.ErrorIs(t, err, storage.ErrExists)

		rc := runConfig()
		rc.Overwrite = true
		_, err = runPSpec(ctx, store, rc, discard)
		assert.NoError(t, err)
	})

	t.Run("list", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, list(ctx, store, &buf))
		out := buf.String()
		assert.Contains(t, out, "GROUP a_b_c")
		assert.Contains(t, out, "a_x_b")
		assert.Contains(t, out, "b_x_c")
	})
}

func TestRunPSpec_Options(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a, b := simulateOptions("a", 1), simulateOptions("b", 2)
	a.FlagChannels = []int{3}
	require.NoError(t, simulate(ctx, store, []uvdata.SimulateOptions{a, b}, false, discard))

	rc := &RunConfig{
		Datasets:            []DatasetConfig{{Label: "a"}, {Label: "b"}},
		Group:               "night",
		NameExt:             "_dayenu",
		Pols:                [][2]uvdata.Pol{{uvdata.PolXX, uvdata.PolXX}},
		FreqRanges:          []uvdata.FreqRange{{Min: 150e6, Max: 151e6}},
		ExcludeAutoBls:      true,
		ExcludePermutations: true,
		Weighting:           oqe.WeightingDayenu,
		RParams: &oqe.RParams{
			FilterCenters:    []float64{0},
			FilterHalfWidths: []float64{200e-9},
			FilterFactors:    []float64{1e-9},
		},
		BroadcastFlags: true,
		JyToMK:         true,
		Beam:           &BeamConfig{FWHM: 0.1},
	}
	rc.setDefaults()
	require.NoError(t, rc.Validate())

	names, err := runPSpec(ctx, store, rc, discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_x_b_dayenu"}, names)

	uvp, err := store.PSpec(ctx, "night", "a_x_b_dayenu")
	require.NoError(t, err)
	assert.Equal(t, "dayenu", uvp.Weighting)
	assert.Equal(t, "mK", uvp.VisUnits)
	assert.Equal(t, 1*3, uvp.Nblpairts())
	assert.NotEmpty(t, uvp.RParams)
}

func TestRunPSpec_MissingDataset(t *testing.T) {
	store := newStore(t)
	rc := runConfig()
	_, err := runPSpec(context.Background(), store, rc, discard)
	assert.ErrorIs(t, err, storage.ErrNoData)
}
