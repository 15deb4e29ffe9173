package uvdata

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	secondsPerDay = 86400.0
	// siderealRate is radians of LST per second of UT.
	siderealRate = 2 * math.Pi / 86164.0905
)

// SimulateOptions parameterise Simulate. Zero values select the defaults.
type SimulateOptions struct {
	Label        string     `yaml:"label" validate:"required"`
	Ntimes       int        `yaml:"ntimes" validate:"gte=0"`
	Nfreqs       int        `yaml:"nfreqs" validate:"gte=0"`
	FreqStart    float64    `yaml:"freqStart" validate:"gte=0"`
	ChannelWidth float64    `yaml:"channelWidth" validate:"gte=0"`
	IntegTime    float64    `yaml:"integrationTime" validate:"gte=0"`
	StartJD      float64    `yaml:"startJD" validate:"gte=0"`
	Antpairs     []Antpair  `yaml:"antpairs"`
	Pols         []Pol      `yaml:"pols"`
	AntSpacing   float64    `yaml:"antennaSpacing" validate:"gte=0"`
	NoiseAmp     float64    `yaml:"noiseAmp" validate:"gte=0"`
	SignalAmp    float64    `yaml:"signalAmp" validate:"gte=0"`
	FlagChannels []int      `yaml:"flagChannels"`
	Seed         int64      `yaml:"seed"`
	VisUnits     string     `yaml:"visUnits"`
	Location     [3]float64 `yaml:"telescopeLocation"`
}

func (o *SimulateOptions) setDefaults() {
	if o.Ntimes == 0 {
		o.Ntimes = 10
	}
	if o.Nfreqs == 0 {
		o.Nfreqs = 50
	}
	if o.FreqStart == 0 {
		o.FreqStart = 150e6
	}
	if o.ChannelWidth == 0 {
		o.ChannelWidth = 97656.25
	}
	if o.IntegTime == 0 {
		o.IntegTime = 10.737
	}
	if o.StartJD == 0 {
		o.StartJD = 2458042.1
	}
	if len(o.Antpairs) == 0 {
		o.Antpairs = []Antpair{{Ant1: 0, Ant2: 1}}
	}
	if len(o.Pols) == 0 {
		o.Pols = []Pol{PolXX}
	}
	if o.AntSpacing == 0 {
		o.AntSpacing = 14.6
	}
	if o.VisUnits == "" {
		o.VisUnits = "Jy"
	}
}

// Simulate builds a synthetic dataset. Every stream carries complex Gaussian
// noise of rms NoiseAmp plus a sky term of amplitude SignalAmp that is common
// to all baselines and drawn once per (time, frequency) from a generator
// seeded only by the sky, so datasets simulated with different seeds share
// the same signal. Antennas are placed on an east-west line.
func Simulate(opts SimulateOptions) (*Dataset, error) {
	opts.setDefaults()
	if opts.Label == "" {
		return nil, fmt.Errorf("uvdata: simulated dataset needs a label")
	}

	d := &Dataset{
		Label:             opts.Label,
		Freqs:             make([]float64, opts.Nfreqs),
		Times:             make([]float64, opts.Ntimes),
		LSTs:              make([]float64, opts.Ntimes),
		IntegrationTime:   make([]float64, opts.Ntimes),
		ChannelWidth:      opts.ChannelWidth,
		VisUnits:          opts.VisUnits,
		PhaseType:         "drift",
		AntennaPositions:  make(map[int][3]float64),
		TelescopeLocation: opts.Location,
		History:           fmt.Sprintf("simulated: seed=%d noise=%g signal=%g", opts.Seed, opts.NoiseAmp, opts.SignalAmp),
		Waterfalls:        make(map[BlPol]*Waterfall),
	}
	for f := range d.Freqs {
		d.Freqs[f] = opts.FreqStart + float64(f)*opts.ChannelWidth
	}
	for t := range d.Times {
		dt := float64(t) * opts.IntegTime
		d.Times[t] = opts.StartJD + dt/secondsPerDay
		d.LSTs[t] = math.Mod(1.0+dt*siderealRate, 2*math.Pi)
		d.IntegrationTime[t] = opts.IntegTime
	}
	for _, ap := range opts.Antpairs {
		for _, a := range []int{ap.Ant1, ap.Ant2} {
			d.AntennaPositions[a] = [3]float64{float64(a) * opts.AntSpacing, 0, 0}
		}
	}

	sky := make([][]complex128, opts.Ntimes)
	skyRng := rand.New(rand.NewSource(42))
	for t := range sky {
		sky[t] = make([]complex128, opts.Nfreqs)
		for f := range sky[t] {
			sky[t][f] = complex(opts.SignalAmp*skyRng.NormFloat64(), opts.SignalAmp*skyRng.NormFloat64())
		}
	}

	flagged := make(map[int]bool, len(opts.FlagChannels))
	for _, c := range opts.FlagChannels {
		if c < 0 || c >= opts.Nfreqs {
			return nil, fmt.Errorf("uvdata: flag channel %d outside [0, %d)", c, opts.Nfreqs)
		}
		flagged[c] = true
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	noise := opts.NoiseAmp / math.Sqrt2
	for _, p := range opts.Pols {
		for _, ap := range opts.Antpairs {
			w := NewWaterfall(opts.Ntimes, opts.Nfreqs)
			for t := 0; t < opts.Ntimes; t++ {
				for f := 0; f < opts.Nfreqs; f++ {
					n := complex(noise*rng.NormFloat64(), noise*rng.NormFloat64())
					w.Data[t][f] = sky[t][f] + n
					w.Flags[t][f] = flagged[f]
				}
			}
			d.Set(ap, p, w)
		}
	}
	return d, d.Validate()
}

// SimulateStd returns a dataset shaped like d whose visibilities hold the
// per-sample noise standard deviation sigma, for the dsets covariance model.
func SimulateStd(d *Dataset, sigma float64) *Dataset {
	out := d.Copy()
	out.Label = d.Label + "_std"
	for _, w := range out.Waterfalls {
		for t := range w.Data {
			for f := range w.Data[t] {
				w.Data[t][f] = complex(sigma, 0)
			}
		}
	}
	return out
}
