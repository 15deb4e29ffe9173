package app

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

const (
	dpi            = 120.0
	fontSize       = 8.0
	tickMarkHeight = 5
	pixelsPerLabel = 120.0
)

type annotatorConfig struct {
	FontSize   float64
	Borders    BorderConfig
	CellWidth  int
	CellHeight int
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, spec *DelaySpectrum) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func(*image.RGBA, *DelaySpectrum) error
	}{
		{"drawing delay scale", a.drawDelayScale},
		{"drawing LST scale", a.drawLSTScale},
		{"drawing info bar", a.drawInfoBar},
	}
	for _, op := range ops {
		if err := op.fn(img, spec); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

// delayX returns the x coordinate of delay tau in seconds.
func (a *annotator) delayX(spec *DelaySpectrum, tau float64) int {
	left := a.config.Borders.Left
	if len(spec.Delays) < 2 {
		return left + a.config.CellWidth/2
	}
	first, last := spec.Delays[0], spec.Delays[len(spec.Delays)-1]
	ratio := (tau - first) / (last - first)
	return left + a.config.CellWidth/2 + int(math.Round(ratio*float64((spec.Width-1)*a.config.CellWidth)))
}

func (a *annotator) drawDelayScale(img *image.RGBA, spec *DelaySpectrum) error {
	if len(spec.Delays) == 0 {
		return nil
	}

	// delays in ns
	first := spec.Delays[0] * 1e9
	last := spec.Delays[len(spec.Delays)-1] * 1e9
	step := niceStep(last-first, float64(spec.Width*a.config.CellWidth)/pixelsPerLabel)
	textY := a.config.Borders.Top - a.fontHeight()/2

	for tau := math.Ceil(first/step) * step; tau <= last+step*1e-9; tau += step {
		x := a.delayX(spec, tau*1e-9)

		for y := a.config.Borders.Top - tickMarkHeight; y < a.config.Borders.Top; y++ {
			img.Set(x, y, color.Black)
		}

		label := formatDelay(tau)
		width := font.MeasureString(a.fontFace, label)
		if _, err := a.context.DrawString(label, freetype.Pt(x-width.Round()/2, textY)); err != nil {
			return fmt.Errorf("drawing delay label: %w", err)
		}
	}
	return nil
}

// drawLSTScale labels rows with their LST in hours. Rows are grouped by
// baseline pair; a longer tick marks the first row of every group.
func (a *annotator) drawLSTScale(img *image.RGBA, spec *DelaySpectrum) error {
	metrics := a.fontFace.Metrics()
	fontHeight := a.fontHeight()
	ch := a.config.CellHeight
	every := max(1, int(math.Ceil(1.5*float64(fontHeight)/float64(ch))))

	left := a.config.Borders.Left
	last := -every
	for i, lst := range spec.LSTs {
		imgY := a.config.Borders.Top + i*ch + ch/2

		tick := tickMarkHeight
		if i == 0 || spec.Blpairs[i] != spec.Blpairs[i-1] {
			tick *= 2
		}
		for x := left - tick; x < left; x++ {
			img.Set(x, imgY, color.Black)
		}

		if i-last < every {
			continue
		}
		last = i

		textY := imgY + fontHeight/2 - metrics.Descent.Round()
		if _, err := a.context.DrawString(formatLST(lst), freetype.Pt(4, textY)); err != nil {
			return fmt.Errorf("drawing LST label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, spec *DelaySpectrum) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s/%s; spw %d: %s - %s; pol %s; %s",
		spec.Group, spec.Name, spec.Spw,
		formatFrequency(spec.FreqMin), formatFrequency(spec.FreqMax),
		uvpspec.PolpairString(spec.Polpair), spec.Units)

	bounds := spec.Bounds()
	fmt.Fprintf(&sb, "; %.1f to %.1f dB", bounds.Min, bounds.Max)

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - (a.config.Borders.Bottom-a.fontHeight())/2 - metrics.Descent.Round()

	if _, err := a.context.DrawString(sb.String(), freetype.Pt(a.config.Borders.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// niceStep returns a 1, 2 or 5 times power of ten step giving about
// count labels over span.
func niceStep(span, count float64) float64 {
	if span <= 0 || count < 1 {
		return math.Max(span, 1)
	}
	rough := span / count
	mag := math.Pow(10, math.Floor(math.Log10(rough)))
	for _, m := range []float64{1, 2, 5, 10} {
		if m*mag >= rough {
			return m * mag
		}
	}
	return 10 * mag
}

func formatDelay(ns float64) string {
	if math.Abs(ns) < 1e-9 {
		ns = 0
	}
	return fmt.Sprintf("%.4g ns", ns)
}

func formatLST(rad float64) string {
	return fmt.Sprintf("%.2fh", rad*12/math.Pi)
}

func formatFrequency(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%0.2f %sHz", v, suffix)
}
