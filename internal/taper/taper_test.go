package taper

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGenerate(t *testing.T) {
	windows := []Window{
		WindowNone, WindowBlackman, WindowBlackmanHarris, WindowBH7,
		WindowHann, WindowHamming, WindowTukey, WindowBartlett,
	}

	for _, w := range windows {
		t.Run(w.String(), func(t *testing.T) {
			out, err := Generate(w, 21, NormalizationNone)
			require.NoError(t, err)
			require.Len(t, out, 21)

			for i := range out {
				assert.InDelta(t, out[i], out[len(out)-1-i], 1e-12, "window must be symmetric")
			}
			assert.InDelta(t, 1, out[10], 1e-6, "peak at the centre")
		})
	}
}

func TestGenerate_Normalization(t *testing.T) {
	t.Run("rms", func(t *testing.T) {
		out, err := Generate(WindowBlackmanHarris, 64, NormalizationRMS)
		require.NoError(t, err)

		var s float64
		for _, v := range out {
			s += v * v
		}
		assert.InDelta(t, 1, s/64, 1e-12)
	})

	t.Run("mean", func(t *testing.T) {
		out, err := Generate(WindowHann, 33, NormalizationMean)
		require.NoError(t, err)

		var s float64
		for _, v := range out {
			s += v
		}
		assert.InDelta(t, 1, s/33, 1e-12)
	})

	t.Run("none is flat under rms", func(t *testing.T) {
		out, err := Generate(WindowNone, 8, NormalizationRMS)
		require.NoError(t, err)
		for _, v := range out {
			assert.Equal(t, 1.0, v)
		}
	})
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := Generate("kaiser", 8, NormalizationNone)
	assert.Error(t, err)

	_, err = Generate(WindowHann, 8, "peak")
	assert.Error(t, err)
}

func TestBlackmanEndpoints(t *testing.T) {
	out := MustGenerate(WindowBlackman, 11, NormalizationNone)
	assert.InDelta(t, 0, out[0], 1e-12)
	assert.False(t, math.IsNaN(out[5]))
}

func TestWindow_UnmarshalYAML(t *testing.T) {
	var cfg struct {
		Taper Window `yaml:"taper"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("taper: bh7\n"), &cfg))
	assert.Equal(t, WindowBH7, cfg.Taper)

	assert.Error(t, yaml.Unmarshal([]byte("taper: triangle\n"), &cfg))
}
