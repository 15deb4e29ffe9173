package app

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/roman-kulish/radio-pspec/internal/storage"
	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

// DelaySpectrum collects the power of one spectral window and polarisation
// pair as rows of delay bins, one row per baseline pair time.
type DelaySpectrum struct {
	Group, Name string
	Spw         int
	Polpair     int // polarisation pair integer
	Units       string

	Width, Height  int
	Delays         []float64 // seconds
	FreqMin        float64   // Hz
	FreqMax        float64   // Hz
	LSTMin, LSTMax float64   // radians
	Levels         *PowerTracker
	MinPower       *float64 // manual override in dB
	MaxPower       *float64 // manual override in dB

	Blpairs []int64   // baseline pair of each row
	LSTs    []float64 // average LST of each row
	Rows    [][]*float64
}

// NewDelaySpectrum prepares a spectrum for the spectral window spw and the
// polarisation pair at index pol of the stored spectrum described by meta.
func NewDelaySpectrum(meta *uvpspec.UVPSpec, spw, pol int, levels *PowerTracker) (*DelaySpectrum, error) {
	if spw < 0 || spw >= meta.Nspws() {
		return nil, fmt.Errorf("spectral window %d out of range [0, %d)", spw, meta.Nspws())
	}
	if pol < 0 || pol >= meta.Npols() {
		return nil, fmt.Errorf("polarisation pair %d out of range [0, %d)", pol, meta.Npols())
	}

	w := meta.Spws[spw]
	s := &DelaySpectrum{
		Spw:     spw,
		Polpair: meta.Polpairs[pol],
		Units:   fmt.Sprintf("(%s)^2 %s", meta.VisUnits, meta.NormUnits),
		Width:   len(w.Delays),
		Delays:  w.Delays,
		LSTMin:  math.MaxFloat64,
		LSTMax:  -math.MaxFloat64,
		Levels:  levels,
	}
	if len(w.Freqs) > 0 {
		s.FreqMin = w.Freqs[0]
		s.FreqMax = w.Freqs[len(w.Freqs)-1]
	}
	return s, nil
}

// toDecibels returns 10 log10 |v|, or nil when it is not finite.
func toDecibels(v complex128) *float64 {
	p := cmplx.Abs(v)
	if p == 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return nil
	}
	db := 10 * math.Log10(p)
	return &db
}

// Update appends one row read from the store. pol indexes the polarisation
// axis of the row.
func (s *DelaySpectrum) Update(row *storage.SpectrumRow, pol int) {
	s.Height++
	s.LSTMin = min(s.LSTMin, row.LSTAvg)
	s.LSTMax = max(s.LSTMax, row.LSTAvg)

	powers := make([]*float64, s.Width)
	for d := 0; d < s.Width && d < len(row.Data); d++ {
		if pol >= len(row.Data[d]) {
			continue
		}
		powers[d] = toDecibels(row.Data[d][pol])
		s.Levels.Add(s.Spw, s.Polpair, s.Units, powers[d])
	}
	s.Rows = append(s.Rows, powers)
	s.Blpairs = append(s.Blpairs, row.Blpair)
	s.LSTs = append(s.LSTs, row.LSTAvg)
}

// Bounds returns the colour scale of the spectrum's group with manual
// overrides applied.
func (s *DelaySpectrum) Bounds() PowerBounds {
	bounds := s.Levels.Bounds(s.Spw, s.Polpair)
	if s.MinPower != nil {
		bounds.Min = *s.MinPower
	}
	if s.MaxPower != nil {
		bounds.Max = *s.MaxPower
	}
	return bounds
}
