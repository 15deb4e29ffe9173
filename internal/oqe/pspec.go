package oqe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/radio-pspec/internal/linalg"
	"github.com/roman-kulish/radio-pspec/internal/taper"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

// DefaultBaselineTol is the redundancy tolerance in metres.
const DefaultBaselineTol = 1.0

// PSpecOptions configure PSpec. Zero values select the defaults noted on
// each field.
type PSpecOptions struct {
	// Bls1 and Bls2 pair up baselines of the first and second dataset.
	Bls1, Bls2 []uvdata.Antpair
	// Dsets are the indices of the two datasets.
	Dsets [2]int
	// Pols are the polarisation pairs to estimate.
	Pols [][2]uvdata.Pol
	// Spws defaults to the full band.
	Spws []uvdata.SpwRange
	// Ndlys per spw; zero selects the window length.
	Ndlys []int
	// Extensions per spw; defaults to no extension.
	Extensions [][2]int

	Weighting Weighting    // default identity
	Norm      Norm         // default I
	Taper     taper.Window // default none
	Sampling  bool
	LittleH   bool
	// BaselineTol defaults to DefaultBaselineTol.
	BaselineTol float64
	StoreCov    bool
	CovModel    CovModel // default empirical
	ExactNorm   bool
	History     string
	// RParams holds the filter parameters per visibility key, required by
	// every weighting except identity and iC.
	RParams map[uvdata.Key]RParams
	// Workers bounds the baseline pairs estimated concurrently; defaults
	// to GOMAXPROCS.
	Workers int
}

func (o *PSpecOptions) setDefaults(nfreqs int) {
	if o.Weighting == "" {
		o.Weighting = WeightingIdentity
	}
	if o.Norm == "" {
		o.Norm = NormI
	}
	if o.Taper == "" {
		o.Taper = taper.WindowNone
	}
	if o.CovModel == "" {
		o.CovModel = CovEmpirical
	}
	if o.BaselineTol == 0 {
		o.BaselineTol = DefaultBaselineTol
	}
	if len(o.Spws) == 0 {
		o.Spws = []uvdata.SpwRange{{Start: 0, End: nfreqs}}
	}
	if o.Extensions == nil {
		o.Extensions = make([][2]int, len(o.Spws))
	}
	if o.Ndlys == nil {
		o.Ndlys = make([]int, len(o.Spws))
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
}

// PSpec estimates the delay power spectra of every baseline pair for every
// spectral window and polarisation pair, normalised with the beam scalar
// when a beam is configured. Polarisation pairs missing from a dataset are
// skipped; an error is returned when none remains.
func (p *PSpecData) PSpec(ctx context.Context, opts PSpecOptions) (*uvpspec.UVPSpec, error) {
	if len(p.dsets) == 0 {
		return nil, ErrNoDatasets
	}
	opts.setDefaults(p.Nfreqs())
	if err := p.checkOptions(opts); err != nil {
		return nil, err
	}
	if err := p.SetTaper(opts.Taper); err != nil {
		return nil, err
	}
	if err := p.SetWeighting(opts.Weighting); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !opts.Taper.IsNone() && opts.Weighting != WeightingIdentity {
		p.warn(WarnTaperWeighting, "scalar normalization is not accurate when both a taper and a non-identity weighting are used")
	}

	dset1, dset2 := p.dsets[opts.Dsets[0]], p.dsets[opts.Dsets[1]]
	pairs := make([][2]uvdata.Antpair, len(opts.Bls1))
	for i := range pairs {
		pairs[i] = [2]uvdata.Antpair{opts.Bls1[i], opts.Bls2[i]}
	}
	if err := p.ValidateBlpairs(pairs, dset1, dset2, opts.BaselineTol); err != nil {
		return nil, err
	}
	blpairs, err := p.blpairMeta(pairs, dset1, dset2)
	if err != nil {
		return nil, err
	}

	var polpairs [][2]uvdata.Pol
	for _, pp := range opts.Pols {
		if !p.ValidatePol(opts.Dsets, pp) {
			p.warn(WarnPolSkipped, "polarization pair failed validation, skipping",
				slog.String("polpair", pp[0].String()+","+pp[1].String()))
			continue
		}
		polpairs = append(polpairs, pp)
	}
	if len(polpairs) == 0 {
		return nil, ErrNoValidPolPair
	}
	polpairInts := make([]int, len(polpairs))
	for j, pp := range polpairs {
		polpairInts[j] = uvpspec.PolpairTupleToInt(pp)
		if p.beam != nil && pp[0] != pp[1] {
			return nil, NewConfigError("oqe: visibilities with different polarizations can only be cross-correlated without a beam, got %s and %s", pp[0], pp[1])
		}
	}

	// flag broadcasting for empirical covariances edits the datasets
	workers := opts.Workers
	if opts.StoreCov && opts.CovModel == CovEmpirical {
		workers = 1
	}

	b, err := uvpspec.NewBuilder(p.Ntimes(), blpairs, opts.StoreCov)
	if err != nil {
		return nil, err
	}

	for i, spw := range opts.Spws {
		if err := p.SetSpw(spw); err != nil {
			return nil, err
		}
		if err := p.SetFilterExtension(opts.Extensions[i][0], opts.Extensions[i][1]); err != nil {
			return nil, err
		}
		if err := p.SetNdlys(opts.Ndlys[i]); err != nil {
			return nil, err
		}
		p.ClearCache()
		p.logger.Info("estimating spectral window",
			slog.Group("spw", slog.Int("start", spw.Start), slog.Int("end", spw.End), slog.Int("ndlys", p.ndlys)))

		dlys, err := p.Delays()
		if err != nil {
			return nil, err
		}
		for d := range dlys {
			dlys[d] *= 1e-9
		}
		scalars := make([]float64, len(polpairs))
		for j, pp := range polpairs {
			if scalars[j], err = p.polScalar(pp, opts); err != nil {
				return nil, err
			}
		}
		s, err := b.AddSpw(uvpspec.Spw{
			Delays: dlys,
			Freqs:  append([]float64(nil), p.Freqs()[spw.Start:spw.End]...),
			Ext:    p.ext,
		}, polpairInts, scalars)
		if err != nil {
			return nil, err
		}

		for j, pp := range polpairs {
			keys1 := make([]uvdata.Key, len(pairs))
			keys2 := make([]uvdata.Key, len(pairs))
			for k, bp := range pairs {
				keys1[k] = uvdata.Key{Dataset: opts.Dsets[0], Antpair: bp[0], Pol: pp[0]}
				keys2[k] = uvdata.Key{Dataset: opts.Dsets[1], Antpair: bp[1], Pol: pp[1]}
				if err := p.applyRParams(opts, keys1[k], keys2[k]); err != nil {
					return nil, err
				}
			}

			records := make([]uvpspec.Record, len(pairs))
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(workers)
			for k := range pairs {
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					rec, err := p.estimate(keys1[k], keys2[k], pp[0], scalars[j], opts)
					if err != nil {
						return fmt.Errorf("estimating %s x %s: %w", keys1[k], keys2[k], err)
					}
					records[k] = rec
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return nil, err
			}
			for k, rec := range records {
				if err := b.Set(s, j, k, rec); err != nil {
					return nil, err
				}
			}
		}
		p.cache.LogSize()
	}

	if err := p.fillMeta(b.Meta(), opts, polpairs); err != nil {
		return nil, err
	}
	return b.Build()
}

func (p *PSpecData) checkOptions(opts PSpecOptions) error {
	for _, d := range opts.Dsets {
		if d < 0 || d >= len(p.dsets) {
			return NewConfigError("oqe: dataset index %d outside [0, %d)", d, len(p.dsets))
		}
	}
	if len(opts.Bls1) == 0 || len(opts.Bls1) != len(opts.Bls2) {
		return NewConfigError("oqe: baseline lists must be non-empty and of equal length, got %d and %d", len(opts.Bls1), len(opts.Bls2))
	}
	if len(opts.Extensions) != len(opts.Spws) {
		return NewConfigError("oqe: %d filter extensions for %d spectral windows", len(opts.Extensions), len(opts.Spws))
	}
	if len(opts.Ndlys) != len(opts.Spws) {
		return NewConfigError("oqe: %d delay counts for %d spectral windows", len(opts.Ndlys), len(opts.Spws))
	}
	if len(opts.Pols) == 0 {
		return NewConfigError("oqe: no polarization pairs requested")
	}
	if err := opts.CovModel.Validate(); err != nil {
		return NewConfigError("%s", err)
	}
	return NormParams{Mode: opts.Norm, ExactNorm: opts.ExactNorm}.validate()
}

// ValidatePol reports whether the first dataset carries pp[0] and the
// second pp[1].
func (p *PSpecData) ValidatePol(dsets [2]int, pp [2]uvdata.Pol) bool {
	valid := true
	for i, d := range dsets {
		if d < 0 || d >= len(p.dsets) || !p.dsets[d].HasPol(pp[i]) {
			p.logger.Info("dataset does not contain polarization", slog.Int("dataset", d), slog.String("pol", pp[i].String()))
			valid = false
		}
	}
	return valid
}

// ValidateBlpairs checks that the datasets agree on shared antenna
// positions within tol metres, and warns about baseline pairs whose
// vectors differ by tol or more.
func (p *PSpecData) ValidateBlpairs(pairs [][2]uvdata.Antpair, d1, d2 *uvdata.Dataset, tol float64) error {
	pos := make(map[int][3]float64, len(d1.AntennaPositions))
	for a, v := range d1.AntennaPositions {
		pos[a] = v
	}
	for a, v2 := range d2.AntennaPositions {
		if v1, ok := pos[a]; ok && norm3(sub3(v1, v2)) > tol {
			return NewConfigError("oqe: datasets do not agree on the position of antenna %d within %g m", a, tol)
		}
		pos[a] = v2
	}
	for _, bp := range pairs {
		v1, err := antVec(pos, bp[0])
		if err != nil {
			return err
		}
		v2, err := antVec(pos, bp[1])
		if err != nil {
			return err
		}
		if norm3(sub3(v1, v2)) >= tol {
			p.warn(WarnRedundancy, "baseline pair exceeds the redundancy tolerance",
				slog.String("bl1", bp[0].String()), slog.String("bl2", bp[1].String()), slog.Float64("tol", tol))
		}
	}
	return nil
}

// antVec returns pos[ant1] - pos[ant2].
func antVec(pos map[int][3]float64, ap uvdata.Antpair) ([3]float64, error) {
	a, ok1 := pos[ap.Ant1]
	b, ok2 := pos[ap.Ant2]
	if !ok1 || !ok2 {
		return [3]float64{}, fmt.Errorf("%w: antenna position for %s", uvdata.ErrKeyNotFound, ap)
	}
	return sub3(a, b), nil
}

func sub3(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func norm3(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func (p *PSpecData) blpairMeta(pairs [][2]uvdata.Antpair, d1, d2 *uvdata.Dataset) ([]uvpspec.Blpair, error) {
	out := make([]uvpspec.Blpair, len(pairs))
	for k, bp := range pairs {
		blp, err := uvpspec.AntnumsToBlpair(bp[0], bp[1])
		if err != nil {
			return nil, NewConfigError("%s", err)
		}
		bl1, _ := uvpspec.AntnumsToBl(bp[0])
		bl2, _ := uvpspec.AntnumsToBl(bp[1])
		vec1, err := antVec(d1.AntennaPositions, bp[0])
		if err != nil {
			return nil, err
		}
		vec2, err := antVec(d1.AntennaPositions, bp[1])
		if err != nil {
			return nil, err
		}
		out[k] = uvpspec.Blpair{
			Blpair: blp,
			Bl1:    bl1,
			Bl2:    bl2,
			Vec1:   vec1,
			Vec2:   vec2,
			Time1:  append([]float64(nil), d1.Times...),
			Time2:  append([]float64(nil), d2.Times...),
			LST1:   append([]float64(nil), d1.LSTs...),
			LST2:   append([]float64(nil), d2.LSTs...),
		}
	}
	return out, nil
}

func (p *PSpecData) polScalar(pp [2]uvdata.Pol, opts PSpecOptions) (float64, error) {
	if p.beam == nil {
		p.warn(WarnNoBeam, "no primary beam defined, power spectra are not properly normalized")
		return 1, nil
	}
	var override taper.Window
	if opts.Norm == NormHInv {
		// H^-1 already accounts for the taper
		override = taper.WindowNone
	}
	s, err := p.Scalar(pp, opts.LittleH, override, opts.ExactNorm)
	if err != nil {
		return 0, fmt.Errorf("scalar for %s: %w", pp[0], err)
	}
	return s, nil
}

func (p *PSpecData) applyRParams(opts PSpecOptions, keys ...uvdata.Key) error {
	if !opts.Weighting.NeedsRParams() {
		return nil
	}
	for _, k := range keys {
		rp, ok := opts.RParams[k]
		if !ok {
			return NewConfigError("oqe: no r_params supplied for %s", k)
		}
		p.SetRParam(k, rp)
	}
	return nil
}

// estimate runs the estimator for one baseline pair over every time.
func (p *PSpecData) estimate(key1, key2 uvdata.Key, pol uvdata.Pol, scalar float64, opts PSpecOptions) (uvpspec.Record, error) {
	var rec uvpspec.Record
	nt := p.Ntimes()

	w1, err := p.W(key1, false)
	if err != nil {
		return rec, err
	}
	w2, err := p.W(key2, false)
	if err != nil {
		return rec, err
	}
	if dof(w1) < p.ndlys || dof(w2) < p.ndlys {
		p.warn(WarnFewChannels, "number of unflagged channels is below the number of delays, normalization may be unstable",
			slog.String("key1", key1.String()), slog.String("key2", key2.String()))
	}

	g, err := p.GetG(key1, key2, opts.ExactNorm, pol)
	if err != nil {
		return rec, err
	}
	h, err := p.GetH(key1, key2, opts.Sampling, opts.ExactNorm, pol)
	if err != nil {
		return rec, err
	}
	q, err := p.QHat([]uvdata.Key{key1}, []uvdata.Key{key2}, false, opts.ExactNorm, pol)
	if err != nil {
		return rec, err
	}
	normOpts := NormParams{Mode: opts.Norm, Sampling: opts.Sampling, ExactNorm: opts.ExactNorm, Pol: pol, CovModel: opts.CovModel}
	m, err := p.GetM(key1, key2, normOpts)
	if err != nil {
		return rec, err
	}
	pv, err := PHat(m, q)
	if err != nil {
		return rec, err
	}
	if p.beam != nil {
		pv = pv.Scale(complex(scalar, 0))
	}

	var sd [][]float64
	if opts.Norm == NormI && !opts.ExactNorm {
		sd = make([][]float64, nt)
		for t := 0; t < nt; t++ {
			if sd[t], err = p.ScalarDelayAdjustment(g[t], h[t]); err != nil {
				return rec, err
			}
			for a, v := range sd[t] {
				pv.Set(a, t, pv.At(a, t)*complex(v, 0))
			}
		}
	}

	rec.Data = make([][]complex128, nt)
	for t := 0; t < nt; t++ {
		rec.Data[t] = pv.Col(t)
	}

	if opts.StoreCov {
		qc, err := p.CovQHat([]uvdata.Key{key1}, []uvdata.Key{key2}, opts.CovModel, opts.ExactNorm, pol)
		if err != nil {
			return rec, err
		}
		pc, err := CovPHat(m, qc)
		if err != nil {
			return rec, err
		}
		rec.Cov = make([][][]complex128, nt)
		for t, c := range pc {
			if p.beam != nil {
				c = c.Scale(complex(scalar*scalar, 0))
			}
			if sd != nil {
				c = linalg.Hadamard(c, linalg.OuterReal(sd[t], sd[t]))
			}
			rec.Cov[t] = rows(c)
		}
	}

	if err := p.fillWeights(&rec, key1, key2, w1, w2); err != nil {
		return rec, err
	}
	return rec, nil
}

// dof returns the smallest number of unflagged channels over time.
func dof(w [][]float64) int {
	best := math.MaxInt
	for _, row := range w {
		var n int
		for _, v := range row {
			if math.Abs(v) > 1e-8 {
				n++
			}
		}
		best = min(best, n)
	}
	return best
}

func rows(m *linalg.Matrix) [][]complex128 {
	r, _ := m.Dims()
	out := make([][]complex128, r)
	for i := range out {
		out[i] = m.Row(i)
	}
	return out
}

// fillWeights stores the flag weights of both keys, the weighted mean
// sample counts and the combined integration time 1 / mean(1/integ).
func (p *PSpecData) fillWeights(rec *uvpspec.Record, key1, key2 uvdata.Key, w1, w2 [][]float64) error {
	nt, nf := p.Ntimes(), p.spw.Len()
	integ := func(key uvdata.Key, w [][]float64) ([]float64, error) {
		d, err := p.dataset(key)
		if err != nil {
			return nil, err
		}
		wf, err := d.Waterfall(key.Antpair, key.Pol)
		if err != nil {
			return nil, err
		}
		out := make([]float64, nt)
		for t := 0; t < nt; t++ {
			var num, den float64
			for f := 0; f < nf; f++ {
				num += wf.Nsamples[t][p.spw.Start+f] * w[t][f]
				den += w[t][f]
			}
			out[t] = d.IntegrationTime[t] * num / math.Max(den, 1)
		}
		return out, nil
	}
	i1, err := integ(key1, w1)
	if err != nil {
		return err
	}
	i2, err := integ(key2, w2)
	if err != nil {
		return err
	}

	rec.Wgts = make([][][2]float64, nt)
	rec.Integrations = make([]float64, nt)
	rec.Nsamples = make([]float64, nt)
	for t := 0; t < nt; t++ {
		rec.Wgts[t] = make([][2]float64, nf)
		for f := 0; f < nf; f++ {
			rec.Wgts[t][f] = [2]float64{w1[t][f], w2[t][f]}
		}
		rec.Integrations[t] = 1 / ((1/i1[t] + 1/i2[t]) / 2)
		rec.Nsamples[t] = 1
	}
	return nil
}

func (p *PSpecData) fillMeta(u *uvpspec.UVPSpec, opts PSpecOptions, polpairs [][2]uvdata.Pol) error {
	visUnits, normUnits, err := p.Units(opts.LittleH)
	if err != nil {
		return err
	}
	u.VisUnits, u.NormUnits = visUnits, normUnits
	u.Labels = append([]string(nil), p.labels...)
	u.Label1, u.Label2 = opts.Dsets[0], opts.Dsets[1]
	u.Weighting = string(opts.Weighting)
	u.Taper = string(opts.Taper)
	u.Norm = string(opts.Norm)
	u.ExactNorm = opts.ExactNorm
	if opts.StoreCov {
		u.CovModel = string(opts.CovModel)
	}
	ref := p.dsets[opts.Dsets[0]]
	u.ChannelWidth = ref.ChannelWidth
	u.TelescopeLocation = ref.TelescopeLocation

	if len(opts.RParams) > 0 {
		enc := make(map[string]RParams, len(opts.RParams))
		for k, rp := range opts.RParams {
			enc[k.String()] = rp
		}
		b, err := json.Marshal(enc)
		if err != nil {
			return fmt.Errorf("encoding r_params: %w", err)
		}
		u.RParams = string(b)
	}

	if p.beam != nil {
		params := p.beam.Cosmology().Params()
		u.Cosmo = &params
		u.BeamFreqs = append([]float64(nil), p.beam.BeamFreqs()...)
		u.OmegaP = make(map[string][]float64)
		u.OmegaPP = make(map[string][]float64)
		for _, pp := range polpairs {
			name := pp[0].String()
			op, err := p.beam.PowerBeamInt(name)
			if err != nil {
				p.logger.Debug("beam has no solid angle for polarization", slog.String("pol", name), slog.Any("error", err))
				continue
			}
			opp, err := p.beam.PowerBeamSqInt(name)
			if err != nil {
				continue
			}
			u.OmegaP[name], u.OmegaPP[name] = op, opp
		}
	}

	u.History = fmt.Sprintf("Estimated power spectrum at %s (run %s)\n%s\n%s",
		time.Now().UTC().Format(time.RFC3339), uuid.New(), opts.History, ref.History)
	return nil
}
