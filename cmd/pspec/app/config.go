package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radio-pspec/internal/cosmo"
	"github.com/roman-kulish/radio-pspec/internal/oqe"
	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// envPrefix prefixes the environment overrides of Settings, e.g. PSPEC_DB.
const envPrefix = "PSPEC"

// DefaultTimeThresh is the fraction of flagged times above which a channel
// is flagged at every time when broadcasting flags.
const DefaultTimeThresh = 0.2

var validate = validator.New()

// Config represents the main application configuration
type Config struct {
	Settings Settings                 `yaml:"settings"`
	Simulate []uvdata.SimulateOptions `yaml:"simulate" validate:"dive"`
	Run      *RunConfig               `yaml:"run"`
}

// Settings represents global application settings. Every field can be
// overridden from the environment.
type Settings struct {
	LogLevel slog.Level `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	DB       string     `yaml:"db" envconfig:"DB" validate:"required"`
}

// DatasetConfig names a stored dataset and its optional noise dataset.
type DatasetConfig struct {
	Label string `yaml:"label" validate:"required"`
	Std   string `yaml:"std"`
}

// BeamConfig configures a Gaussian primary beam.
type BeamConfig struct {
	FWHM float64 `yaml:"fwhm" validate:"gt=0"`
}

// RunConfig describes one estimation run over stored datasets.
type RunConfig struct {
	Datasets []DatasetConfig `yaml:"datasets" validate:"min=2,dive"`
	// Pairs are dataset index pairs; defaults to every combination.
	Pairs [][2]int `yaml:"pairs"`
	// Group defaults to the dataset labels joined by "_".
	Group   string `yaml:"group"`
	NameExt string `yaml:"nameExt"`

	// Baselines default to every antenna pair of the first dataset.
	Baselines           []uvdata.Antpair `yaml:"baselines"`
	ExcludeAutoBls      bool             `yaml:"excludeAutoBls"`
	ExcludePermutations bool             `yaml:"excludePermutations"`
	BaselineTol         float64          `yaml:"baselineTol" validate:"gte=0"`

	Pols       [][2]uvdata.Pol    `yaml:"pols" validate:"required,min=1"`
	Spws       []uvdata.SpwRange  `yaml:"spws"`
	FreqRanges []uvdata.FreqRange `yaml:"freqRanges"`
	Ndlys      []int              `yaml:"ndlys" validate:"dive,gte=0"`
	Extensions [][2]int           `yaml:"extensions"`

	Weighting oqe.Weighting `yaml:"weighting"`
	Norm      oqe.Norm      `yaml:"norm"`
	Taper     taper.Window  `yaml:"taper"`
	CovModel  oqe.CovModel  `yaml:"covModel"`
	StoreCov  bool          `yaml:"storeCov"`
	ExactNorm bool          `yaml:"exactNorm"`
	Sampling  bool          `yaml:"sampling"`
	LittleH   bool          `yaml:"littleH"`
	// RParams apply to every visibility stream of the run.
	RParams *oqe.RParams `yaml:"rParams"`

	TrimLSTs       bool    `yaml:"trimLSTs"`
	BroadcastFlags bool    `yaml:"broadcastFlags"`
	TimeThresh     float64 `yaml:"timeThresh" validate:"gte=0,lte=1"`
	JyToMK         bool    `yaml:"jyToMK"`

	Beam  *BeamConfig   `yaml:"beam"`
	Cosmo *cosmo.Params `yaml:"cosmo"`

	Overwrite bool   `yaml:"overwrite"`
	History   string `yaml:"history"`
	Workers   int    `yaml:"workers" validate:"gte=0"`
}

func (c *RunConfig) setDefaults() {
	if c.TimeThresh == 0 {
		c.TimeThresh = DefaultTimeThresh
	}
	if c.Weighting == "" {
		c.Weighting = oqe.WeightingIdentity
	}
	if c.Norm == "" {
		c.Norm = oqe.NormI
	}
	if c.Taper == "" {
		c.Taper = taper.WindowNone
	}
	if c.CovModel == "" {
		c.CovModel = oqe.CovEmpirical
	}
	if len(c.Pairs) == 0 {
		for i := range c.Datasets {
			for j := i + 1; j < len(c.Datasets); j++ {
				c.Pairs = append(c.Pairs, [2]int{i, j})
			}
		}
	}
}

// Validate checks the fields the struct tags cannot express.
func (c *RunConfig) Validate() error {
	for _, v := range []interface{ Validate() error }{c.Weighting, c.Norm, c.Taper, c.CovModel} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	for _, p := range c.Pairs {
		for _, i := range p {
			if i < 0 || i >= len(c.Datasets) {
				return fmt.Errorf("app.RunConfig: dataset pair %v out of range for %d datasets", p, len(c.Datasets))
			}
		}
	}
	for _, pp := range c.Pols {
		if !pp[0].Valid() || !pp[1].Valid() {
			return fmt.Errorf("app.RunConfig: invalid polarization pair %v", pp)
		}
	}
	if len(c.Spws) > 0 && len(c.FreqRanges) > 0 {
		return errors.New("app.RunConfig: spws and freqRanges are mutually exclusive")
	}
	nspws := max(len(c.Spws), len(c.FreqRanges), 1)
	if len(c.Ndlys) > 0 && len(c.Ndlys) != nspws {
		return fmt.Errorf("app.RunConfig: %d ndlys for %d spectral windows", len(c.Ndlys), nspws)
	}
	if len(c.Extensions) > 0 && len(c.Extensions) != nspws {
		return fmt.Errorf("app.RunConfig: %d extensions for %d spectral windows", len(c.Extensions), nspws)
	}
	if c.Weighting.NeedsRParams() && c.RParams == nil {
		return fmt.Errorf("app.RunConfig: weighting %q requires rParams", c.Weighting)
	}
	if c.JyToMK && c.Beam == nil {
		return errors.New("app.RunConfig: jyToMK requires a beam")
	}
	if c.Cosmo != nil {
		if err := c.Cosmo.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig reads the YAML configuration at path, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, overrides and validates a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := envconfig.Process(envPrefix, &config.Settings); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if config.Run != nil {
		config.Run.setDefaults()
	}

	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if config.Run != nil {
		if err := config.Run.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
	}
	return &config, nil
}
