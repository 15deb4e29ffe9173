// Package oqe implements the optimal quadratic estimator of delay power
// spectra: data weighting (R), response (G, H), unnormalised bandpowers,
// normalisation (M, W) and the propagated bandpower covariances.
package oqe

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/radio-pspec/internal/beam"
	"github.com/roman-kulish/radio-pspec/internal/cache"
	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

const (
	// lstTolerance is the LST misalignment (radians) above which datasets
	// are reported as misaligned, about 15 seconds.
	lstTolerance = 0.001
	// freqTolerance is the frequency misalignment in Hz.
	freqTolerance = 1e3
)

type Option func(*PSpecData)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(p *PSpecData) {
		p.logger = logger
	}
}

// WithBeam sets the primary beam used for the cosmological normalisation.
func WithBeam(b beam.Provider) Option {
	return func(p *PSpecData) {
		p.beam = b
	}
}

// WithLabels names the datasets. The default labels are dset0, dset1, ...
func WithLabels(labels ...string) Option {
	return func(p *PSpecData) {
		p.labels = labels
	}
}

// WithStd attaches per-visibility standard deviation datasets, one per
// dataset, for the dsets covariance model. Nil entries are allowed.
func WithStd(std ...*uvdata.Dataset) Option {
	return func(p *PSpecData) {
		p.dsetsStd = std
	}
}

// WithRegisterer registers the matrix cache metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *PSpecData) {
		p.registerer = reg
	}
}

// WithCacheHook is called on every matrix computation.
func WithCacheHook(fn func(kind cache.Kind, key string)) Option {
	return func(p *PSpecData) {
		p.cacheHook = fn
	}
}

type rParamKey struct {
	weighting Weighting
	key       uvdata.Key
}

// PSpecData holds a collection of visibility datasets and the estimator
// state: spectral window, filter extension, number of delays, data
// weighting and taper. Setters must not be called while PSpec or any of the
// matrix accessors run; the accessors themselves are safe for concurrent use.
type PSpecData struct {
	dsets    []*uvdata.Dataset
	dsetsStd []*uvdata.Dataset
	labels   []string
	beam     beam.Provider

	spw       uvdata.SpwRange
	ext       [2]int
	ndlys     int
	weighting Weighting
	taper     taper.Window
	rParams   map[rParamKey]RParams

	cache      *cache.Cache
	registerer prometheus.Registerer
	cacheHook  func(cache.Kind, string)

	mu         sync.Mutex
	warnings   []Warning
	flagBackup []map[uvdata.BlPol][][]bool

	logger *slog.Logger
}

// New creates an estimator over dsets. The spectral window defaults to the
// full band with as many delays as channels, identity weighting and no
// taper.
func New(dsets []*uvdata.Dataset, opts ...Option) (*PSpecData, error) {
	p := &PSpecData{
		weighting: WeightingIdentity,
		taper:     taper.WindowNone,
		rParams:   make(map[rParamKey]RParams),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}

	copts := []cache.Option{cache.WithLogger(p.logger)}
	if p.registerer != nil {
		copts = append(copts, cache.WithRegisterer(p.registerer))
	}
	if p.cacheHook != nil {
		copts = append(copts, cache.WithComputeHook(p.cacheHook))
	}
	c, err := cache.New(copts...)
	if err != nil {
		return nil, err
	}
	p.cache = c

	labels, std := p.labels, p.dsetsStd
	p.labels, p.dsetsStd = nil, nil
	if len(dsets) > 0 {
		if err := p.AddDatasets(dsets, labels, std); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddDatasets appends datasets with optional labels and std datasets and
// re-validates the collection. The spectral window is reset to the full
// band when it is unset.
func (p *PSpecData) AddDatasets(dsets []*uvdata.Dataset, labels []string, std []*uvdata.Dataset) error {
	if labels != nil && len(labels) != len(dsets) {
		return NewConfigError("oqe: %d labels for %d datasets", len(labels), len(dsets))
	}
	if std != nil && len(std) != len(dsets) {
		return NewConfigError("oqe: %d std datasets for %d datasets", len(std), len(dsets))
	}
	for i, d := range dsets {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("adding dataset %d: %w", len(p.dsets)+i, err)
		}
		label := fmt.Sprintf("dset%d", len(p.dsets))
		if labels != nil {
			label = labels[i]
		}
		if slices.Contains(p.labels, label) {
			return NewConfigError("oqe: duplicate dataset label %q", label)
		}
		var s *uvdata.Dataset
		if std != nil {
			s = std[i]
		}
		p.dsets = append(p.dsets, d)
		p.labels = append(p.labels, label)
		p.dsetsStd = append(p.dsetsStd, s)
	}

	if err := p.Validate(); err != nil {
		return err
	}
	if p.spw.Len() == 0 {
		if err := p.SetSpw(uvdata.SpwRange{Start: 0, End: p.Nfreqs()}); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the datasets share their frequency and time axes.
// Misaligned LSTs or frequencies are reported as warnings only.
func (p *PSpecData) Validate() error {
	if len(p.dsets) == 0 {
		return ErrNoDatasets
	}
	ref := p.dsets[0]
	for i, d := range p.dsets[1:] {
		switch {
		case d.Nfreqs() != ref.Nfreqs():
			return NewConfigError("oqe: all datasets must have the same Nfreqs, dataset %d has %d, expected %d", i+1, d.Nfreqs(), ref.Nfreqs())
		case d.ChannelWidth != ref.ChannelWidth:
			return NewConfigError("oqe: all datasets must have the same channel width")
		case d.Ntimes() != ref.Ntimes():
			return NewConfigError("oqe: all datasets must have the same Ntimes, dataset %d has %d, expected %d", i+1, d.Ntimes(), ref.Ntimes())
		case d.PhaseType != ref.PhaseType:
			return NewConfigError("oqe: all datasets must have the same phase type, got %q and %q", ref.PhaseType, d.PhaseType)
		}
		if maxAbsDiff(ref.LSTs, d.LSTs) > lstTolerance {
			p.warn(WarnLSTMisaligned, "LST bins in datasets misaligned by more than 15 seconds",
				slog.String("dataset", p.labels[i+1]))
		}
		if maxAbsDiff(ref.Freqs, d.Freqs) > freqTolerance {
			p.warn(WarnFreqMisaligned, "frequency bins in datasets misaligned by more than 0.001 MHz",
				slog.String("dataset", p.labels[i+1]))
		}
	}
	for i, s := range p.dsetsStd {
		if s == nil {
			continue
		}
		if s.Nfreqs() != p.dsets[i].Nfreqs() || s.Ntimes() != p.dsets[i].Ntimes() {
			return NewConfigError("oqe: std dataset %d does not match its dataset shape", i)
		}
	}
	return nil
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := 0; i < min(len(a), len(b)); i++ {
		m = math.Max(m, math.Abs(a[i]-b[i]))
	}
	return m
}

func (p *PSpecData) warn(kind WarningKind, msg string, attrs ...any) {
	p.mu.Lock()
	p.warnings = append(p.warnings, Warning{Kind: kind, Message: msg})
	p.mu.Unlock()
	p.logger.Warn(msg, append([]any{slog.String("kind", string(kind))}, attrs...)...)
}

// Warnings returns the anomalies recorded so far.
func (p *PSpecData) Warnings() []Warning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.warnings)
}

// HasWarning reports whether a warning of kind was recorded.
func (p *PSpecData) HasWarning(kind WarningKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.ContainsFunc(p.warnings, func(w Warning) bool { return w.Kind == kind })
}

// Cache exposes the matrix cache.
func (p *PSpecData) Cache() *cache.Cache { return p.cache }

// Datasets returns the datasets in insertion order.
func (p *PSpecData) Datasets() []*uvdata.Dataset { return p.dsets }

// Labels returns the dataset labels.
func (p *PSpecData) Labels() []string { return p.labels }

// Beam returns the primary beam, nil when none was configured.
func (p *PSpecData) Beam() beam.Provider { return p.beam }

// Nfreqs returns the number of channels of the full band.
func (p *PSpecData) Nfreqs() int { return p.dsets[0].Nfreqs() }

// Ntimes returns the number of time samples.
func (p *PSpecData) Ntimes() int { return p.dsets[0].Ntimes() }

// Freqs returns the full frequency axis.
func (p *PSpecData) Freqs() []float64 { return p.dsets[0].Freqs }

// DsetIdx resolves a dataset label to its index.
func (p *PSpecData) DsetIdx(label string) (int, error) {
	i := slices.Index(p.labels, label)
	if i < 0 {
		return 0, fmt.Errorf("%w: dataset label %q", uvdata.ErrKeyNotFound, label)
	}
	return i, nil
}

// Spw returns the current spectral window.
func (p *PSpecData) Spw() uvdata.SpwRange { return p.spw }

// SpwNfreqs returns the number of channels in the spectral window.
func (p *PSpecData) SpwNfreqs() int { return p.spw.Len() }

// Ndlys returns the number of delay bins.
func (p *PSpecData) Ndlys() int { return p.ndlys }

// FilterExtension returns the channels added below and above the window.
func (p *PSpecData) FilterExtension() [2]int { return p.ext }

// Weighting returns the current data weighting.
func (p *PSpecData) Weighting() Weighting { return p.weighting }

// Taper returns the current taper.
func (p *PSpecData) Taper() taper.Window { return p.taper }

func (p *PSpecData) nfext() int { return p.spw.Len() + p.ext[0] + p.ext[1] }

// SetSpw selects the spectral window. The filter extension is reset, the
// number of delays set to the window length and the cache cleared.
func (p *PSpecData) SetSpw(spw uvdata.SpwRange) error {
	if spw.Start < 0 || spw.End > p.Nfreqs() || spw.Len() <= 0 {
		return NewConfigError("oqe: spectral window %s outside [0, %d)", spw, p.Nfreqs())
	}
	p.spw = spw
	p.ext = [2]int{}
	p.ndlys = spw.Len()
	p.ClearCache()
	return nil
}

// SetFilterExtension adds channels below and above the window that the
// weighting filters may use. Extensions beyond the band are clipped.
func (p *PSpecData) SetFilterExtension(lo, hi int) error {
	if lo < 0 || hi < 0 {
		return NewConfigError("oqe: negative filter extension (%d, %d)", lo, hi)
	}
	if lo > p.spw.Start {
		p.warn(WarnExtensionClipped, "filter extension below the window exceeds the band, clipping",
			slog.Int("requested", lo), slog.Int("clipped", p.spw.Start))
		lo = p.spw.Start
	}
	if room := p.Nfreqs() - p.spw.End; hi > room {
		p.warn(WarnExtensionClipped, "filter extension above the window exceeds the band, clipping",
			slog.Int("requested", hi), slog.Int("clipped", room))
		hi = room
	}
	if p.ext != [2]int{lo, hi} {
		p.ext = [2]int{lo, hi}
		p.ClearCache()
	}
	return nil
}

// SetNdlys sets the number of delay bins. Zero selects the window length.
func (p *PSpecData) SetNdlys(n int) error {
	if n == 0 {
		n = p.spw.Len()
	}
	if n < 0 || n > p.spw.Len() {
		return NewConfigError("oqe: cannot estimate %d delays from %d frequency channels", n, p.spw.Len())
	}
	p.ndlys = n
	return nil
}

// SetWeighting selects the data weighting.
func (p *PSpecData) SetWeighting(w Weighting) error {
	if err := w.Validate(); err != nil {
		return NewConfigError("%s", err)
	}
	p.weighting = w
	return nil
}

// SetTaper selects the taper applied to the weighted data.
func (p *PSpecData) SetTaper(w taper.Window) error {
	if err := w.Validate(); err != nil {
		return NewConfigError("%s", err)
	}
	p.taper = w
	return nil
}

// SetRParam stores filter parameters for key under the current weighting.
func (p *PSpecData) SetRParam(key uvdata.Key, rp RParams) {
	p.rParams[rParamKey{weighting: p.weighting, key: key}] = rp
}

// RParam returns the filter parameters of key under the current weighting.
func (p *PSpecData) RParam(key uvdata.Key) (RParams, bool) {
	rp, ok := p.rParams[rParamKey{weighting: p.weighting, key: key}]
	return rp, ok
}

// ClearCache drops every cached matrix.
func (p *PSpecData) ClearCache() {
	if p.cache != nil {
		p.cache.Invalidate("")
	}
}

// ClearRParams drops every stored filter parameter set.
func (p *PSpecData) ClearRParams() {
	p.rParams = make(map[rParamKey]RParams)
}

func (p *PSpecData) dataset(key uvdata.Key) (*uvdata.Dataset, error) {
	if key.Dataset < 0 || key.Dataset >= len(p.dsets) {
		return nil, fmt.Errorf("%w: dataset index %d", uvdata.ErrKeyNotFound, key.Dataset)
	}
	return p.dsets[key.Dataset], nil
}

// chanRange returns the channel slice of the window, with or without the
// filter extension.
func (p *PSpecData) chanRange(includeExt bool) (int, int) {
	if includeExt {
		return p.spw.Start - p.ext[0], p.spw.End + p.ext[1]
	}
	return p.spw.Start, p.spw.End
}

// X returns the visibilities of key over the window, indexed [time][freq].
func (p *PSpecData) X(key uvdata.Key, includeExt bool) ([][]complex128, error) {
	d, err := p.dataset(key)
	if err != nil {
		return nil, err
	}
	wf, err := d.Waterfall(key.Antpair, key.Pol)
	if err != nil {
		return nil, err
	}
	lo, hi := p.chanRange(includeExt)
	out := make([][]complex128, len(wf.Data))
	for t, row := range wf.Data {
		out[t] = slices.Clone(row[lo:hi])
	}
	return out, nil
}

// DX returns the standard deviation visibilities of key.
func (p *PSpecData) DX(key uvdata.Key, includeExt bool) ([][]complex128, error) {
	if _, err := p.dataset(key); err != nil {
		return nil, err
	}
	s := p.dsetsStd[key.Dataset]
	if s == nil {
		return nil, NewConfigError("oqe: no std dataset for dataset %d, the dsets covariance model needs one", key.Dataset)
	}
	wf, err := s.Waterfall(key.Antpair, key.Pol)
	if err != nil {
		return nil, err
	}
	lo, hi := p.chanRange(includeExt)
	out := make([][]complex128, len(wf.Data))
	for t, row := range wf.Data {
		out[t] = slices.Clone(row[lo:hi])
	}
	return out, nil
}

// W returns the flag weights of key (1 unflagged, 0 flagged), indexed
// [time][freq].
func (p *PSpecData) W(key uvdata.Key, includeExt bool) ([][]float64, error) {
	d, err := p.dataset(key)
	if err != nil {
		return nil, err
	}
	wf, err := d.Waterfall(key.Antpair, key.Pol)
	if err != nil {
		return nil, err
	}
	lo, hi := p.chanRange(includeExt)
	out := make([][]float64, len(wf.Flags))
	for t, row := range wf.Flags {
		out[t] = make([]float64, hi-lo)
		for f, flagged := range row[lo:hi] {
			if !flagged {
				out[t][f] = 1
			}
		}
	}
	return out, nil
}

// Y returns the weights of key over the extended window. Its rows are the
// flag fingerprints that key every time dependent matrix. The entry is keyed
// on the live flags, so editing them yields a new entry.
func (p *PSpecData) Y(key uvdata.Key) ([][]float64, error) {
	w, err := p.W(key, true)
	if err != nil {
		return nil, err
	}
	k := p.stateKey(key).Float64Grid(w).Key()
	return cache.Get(p.cache, cache.KindY, k, func() ([][]float64, error) {
		return w, nil
	})
}

// stateKey starts a cache key with the baseline keys, their filter
// parameters and the window state.
func (p *PSpecData) stateKey(keys ...uvdata.Key) *cache.KeyBuilder {
	b := cache.NewKey()
	for _, k := range keys {
		b.Int(k.Dataset, k.Ant1, k.Ant2, int(k.Pol))
		rp, _ := p.RParam(k)
		b.Float64s(rp.FilterCenters).
			Float64s(rp.FilterHalfWidths).
			Float64s(rp.FilterFactors).
			Float64s([]float64{rp.FundamentalPeriod, rp.EigenvalCutoff})
	}
	return b.Int(p.spw.Start, p.spw.End, p.ext[0], p.ext[1], p.ndlys).
		String(string(p.weighting)).
		String(string(p.taper))
}

// fingerprint appends the flag rows of keys at time t.
func (p *PSpecData) fingerprint(b *cache.KeyBuilder, t int, keys ...uvdata.Key) (*cache.KeyBuilder, error) {
	for _, k := range keys {
		y, err := p.Y(k)
		if err != nil {
			return nil, err
		}
		b.Float64s(y[t])
	}
	return b, nil
}

// Delays returns the delay bin centres of the window in nanoseconds.
func (p *PSpecData) Delays() ([]float64, error) {
	if len(p.dsets) == 0 {
		return nil, ErrNoDatasets
	}
	freqs := p.Freqs()[p.spw.Start:p.spw.End]
	return delays(freqs, p.ndlys), nil
}

// delays is fftshift(fftfreq(n, median channel spacing)) in ns.
func delays(freqs []float64, n int) []float64 {
	dnu := 1.0
	if len(freqs) > 1 {
		diffs := make([]float64, len(freqs)-1)
		for i := range diffs {
			diffs[i] = freqs[i+1] - freqs[i]
		}
		dnu = median(diffs)
	}
	out := make([]float64, n)
	for k := range out {
		out[k] = float64(k-n/2) / (float64(n) * dnu) * 1e9
	}
	return out
}

// Units returns the visibility units and the normalisation units.
func (p *PSpecData) Units(littleH bool) (string, string, error) {
	if len(p.dsets) == 0 {
		return "", "", ErrNoDatasets
	}
	if p.beam == nil {
		return p.dsets[0].VisUnits, "Hz str [beam normalization not specified]", nil
	}
	if littleH {
		return p.dsets[0].VisUnits, "h^-3 Mpc^3", nil
	}
	return p.dsets[0].VisUnits, "Mpc^3", nil
}
