package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme represents a predefined color scheme for power visualization.
type ColorTheme string

const (
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white
	EnhancedTheme  ColorTheme = "enhanced"  // Black to blue to cyan to yellow to red
)

var validColorThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	JungleTheme:    {},
	ThermalTheme:   {},
	MarineTheme:    {},
	EnhancedTheme:  {},
}

// thermalStops are blended in the perceptually uniform Lab space.
var thermalStops = []colorful.Color{
	{R: 0, G: 0, B: 0},
	{R: 1, G: 0, B: 0},
	{R: 1, G: 1, B: 0},
	{R: 1, G: 1, B: 1},
}

var noDataColor = color.Black

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// gradient blends evenly spaced stops at position p in [0, 1].
func gradient(stops []colorful.Color, p float64) colorful.Color {
	p = clamp01(p)
	seg := p * float64(len(stops)-1)
	i := min(int(seg), len(stops)-2)
	return stops[i].BlendLab(stops[i+1], seg-float64(i)).Clamped()
}

// getColorTheme returns the mapping of a normalized power in [0, 1] to a
// color for theme.
func getColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(power float64) color.Color {
			power = clamp01(power)
			return colorful.Hsv(240-(power*240), 0.9+(power*0.1), math.Pow(power, 0.7))
		}

	case GrayscaleTheme:
		return func(power float64) color.Color {
			v := math.Pow(clamp01(power), 0.7)
			return colorful.Color{R: v, G: v, B: v}
		}

	case JungleTheme:
		return func(power float64) color.Color {
			power = clamp01(power)
			return colorful.Hsv(120-(power*60), 1, 0.3+(math.Pow(power, 0.6)*0.7))
		}

	case ThermalTheme:
		return func(power float64) color.Color {
			return gradient(thermalStops, power)
		}

	case MarineTheme:
		return func(power float64) color.Color {
			power = clamp01(power)
			return colorful.Hsv(240-(power*60), 1-(power*0.8), 0.3+(math.Pow(power, 0.6)*0.7))
		}

	default:
		return powerToColorEnhanced
	}
}

// powerToColorEnhanced provides a color mapping with better differentiation
// in the lower power ranges.
func powerToColorEnhanced(normalizedPower float64) color.Color {
	power := clamp01(normalizedPower)
	enhanced := math.Pow(power, 0.7)

	switch {
	case power < 0.25:
		return colorful.Hsv(240, 1, math.Min(1, enhanced*4))
	case power < 0.5:
		return colorful.Hsv(240-((power-0.25)*240), 1, math.Min(1, enhanced*1.5))
	case power < 0.75:
		p := (power - 0.5) * 4
		return colorful.Hsv(180-(p*120), 1, math.Min(1, enhanced*1.5))
	default:
		p := (power - 0.75) * 4
		return colorful.Hsv(60-(p*60), 1, 1)
	}
}
