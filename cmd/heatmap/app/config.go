package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type ImageFormat string

type Config struct {
	DBPath     string
	Group      string
	Name       string
	OutputFile string
	Format     ImageFormat
	Theme      ColorTheme

	Spw     int
	Polpair int // index into the polarization pairs of the spectrum
	Blpair  *int64
	MinLST  *float64 // radians
	MaxLST  *float64 // radians

	MaxPower *float64 // dB
	MinPower *float64 // dB

	CellWidth     int
	CellHeight    int
	Verbose       bool
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:     ImagePNG,
		Theme:      ClassicTheme,
		CellWidth:  defaultCellWidth,
		CellHeight: defaultCellHeight,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return NewConfigFromArgs(flag.CommandLine, os.Args[1:])
}

// NewConfigFromArgs parses args into a Config using fs.
func NewConfigFromArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, theme string
	var minPower, maxPower, minLST, maxLST float64
	var blpair int64
	fs.StringVar(&c.DBPath, "db", "", "Path to the database file")
	fs.StringVar(&c.Group, "g", "", "Power spectrum group")
	fs.StringVar(&c.Name, "n", "", "Power spectrum name")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(ClassicTheme), "Color theme. [classic, grayscale, jungle, thermal, marine, enhanced]")
	fs.IntVar(&c.Spw, "spw", 0, "Spectral window index")
	fs.IntVar(&c.Polpair, "polpair", 0, "Polarization pair index")
	fs.Int64Var(&blpair, "blpair", 0, "Render a single baseline pair (integer encoding)")
	fs.Float64Var(&minLST, "min-lst", 0, "Minimum LST in radians")
	fs.Float64Var(&maxLST, "max-lst", 0, "Maximum LST in radians")
	fs.Float64Var(&minPower, "min-power", 0, "Define a manual minimum power in dB (format nn.n)")
	fs.Float64Var(&maxPower, "max-power", 0, "Define a manual maximum power in dB (format nn.n)")
	fs.IntVar(&c.CellWidth, "cell-width", defaultCellWidth, "Pixels per delay bin")
	fs.IntVar(&c.CellHeight, "cell-height", defaultCellHeight, "Pixels per baseline pair time")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disabled annotations such as delay and LST scales")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-power":
			c.MinPower = &minPower
		case "max-power":
			c.MaxPower = &maxPower
		case "min-lst":
			c.MinLST = &minLST
		case "max-lst":
			c.MaxLST = &maxLST
		case "blpair":
			c.Blpair = &blpair
		}
	})

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.Group == "" || c.Name == "" {
		err = errors.New("group and name are required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if _, ok := validColorThemes[ColorTheme(theme)]; !ok {
		err = fmt.Errorf("invalid color theme: %s", theme)
	} else if (c.MinLST == nil) != (c.MaxLST == nil) {
		err = errors.New("min-lst and max-lst must be set together")
	} else if c.MinPower != nil && c.MaxPower != nil && *c.MinPower >= *c.MaxPower {
		err = errors.New("min-power must be below max-power")
	} else if c.CellWidth <= 0 || c.CellHeight <= 0 {
		err = errors.New("cell sizes must be positive")
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
