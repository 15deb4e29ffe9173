package app

import (
	"fmt"
	"image"
	"image/draw"
)

const (
	defaultCellWidth  = 16
	defaultCellHeight = 8

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 80
	defaultBottomBorder = 40
	defaultRightBorder  = 40

	// The info bar needs room even for narrow spectra.
	minImageWidth = 640
)

// BorderConfig defines the sizes of white space around the spectrum
type BorderConfig struct {
	Top    int // Space for delay scale
	Left   int // Space for LST scale
	Bottom int // Space for information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for spectrum visualization
type RenderConfig struct {
	// Cell size in pixels
	CellWidth  int // per delay bin
	CellHeight int // per baseline pair time

	// Visual configuration
	FontSize      float64    // Font size in points
	ColorTheme    ColorTheme // Color scheme for power values
	ColorMapSize  int        // Number of colors in gradient (0 for default)
	NoAnnotations bool

	// Border configuration
	BorderConfig BorderConfig
}

// SpectrumRenderer handles the visualization of delay spectra
type SpectrumRenderer struct {
	colorMap *ColorMapper
	config   RenderConfig
}

// NewSpectrumRenderer creates a new spectrum renderer with the given configuration
func NewSpectrumRenderer(config RenderConfig) (*SpectrumRenderer, error) {
	if config.CellWidth < 0 || config.CellHeight < 0 {
		return nil, fmt.Errorf("invalid cell size %dx%d", config.CellWidth, config.CellHeight)
	}

	// Set defaults for zero values
	if config.CellWidth == 0 {
		config.CellWidth = defaultCellWidth
	}
	if config.CellHeight == 0 {
		config.CellHeight = defaultCellHeight
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{}
		return &SpectrumRenderer{config: config}, nil
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &SpectrumRenderer{config: config}, nil
}

// Render creates an image of the spectrum data with annotations
func (r *SpectrumRenderer) Render(spec *DelaySpectrum) (*image.RGBA, error) {
	if spec.Width == 0 || spec.Height == 0 {
		return nil, fmt.Errorf("empty spectrum %dx%d", spec.Width, spec.Height)
	}

	b := r.config.BorderConfig
	areaWidth := spec.Width * r.config.CellWidth
	areaHeight := spec.Height * r.config.CellHeight

	fullWidth := areaWidth + b.Left + b.Right
	if !r.config.NoAnnotations {
		fullWidth = max(fullWidth, minImageWidth)
	}
	fullHeight := areaHeight + b.Top + b.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))

	// Fill with white background
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	spectrumArea := image.Rect(b.Left, b.Top, b.Left+areaWidth, b.Top+areaHeight)

	// Update or create color map
	bounds := spec.Bounds()
	if r.colorMap == nil {
		if r.config.ColorMapSize > 0 {
			r.colorMap = NewColorMapperWithSize(r.config.ColorTheme, bounds, r.config.ColorMapSize)
		} else {
			r.colorMap = NewColorMapper(r.config.ColorTheme, bounds)
		}
	} else {
		r.colorMap.UpdateBounds(bounds)
	}

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(annotatorConfig{
			FontSize:   r.config.FontSize,
			Borders:    b,
			CellWidth:  r.config.CellWidth,
			CellHeight: r.config.CellHeight,
		})
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, spec); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	r.renderSpectrum(img, spectrumArea, spec)

	return img, nil
}

// renderSpectrum fills one cell per delay bin and row using the color map
func (r *SpectrumRenderer) renderSpectrum(img *image.RGBA, area image.Rectangle, spec *DelaySpectrum) {
	cw, ch := r.config.CellWidth, r.config.CellHeight
	for y, row := range spec.Rows {
		for x, power := range row {
			cell := image.Rect(
				area.Min.X+x*cw,
				area.Min.Y+y*ch,
				area.Min.X+(x+1)*cw,
				area.Min.Y+(y+1)*ch,
			)
			draw.Draw(img, cell, image.NewUniform(r.colorMap.GetColor(power)), image.Point{}, draw.Src)
		}
	}
}
