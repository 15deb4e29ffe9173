package oqe

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

const (
	// defaultTimeThresh is the fraction of flagged times above which a
	// channel is flagged at all times.
	defaultTimeThresh = 0.2
	// fullyFlagged marks a time sample as flagged across the band.
	fullyFlagged = 0.999999
	// DefaultLSTTol is the number of decimals LSTs are compared at.
	DefaultLSTTol = 6
)

// BroadcastDsetFlags turns sparse flags into flags that are constant in
// time over each spectral window. Channels flagged in more than timeThresh
// of the not fully flagged times are flagged at all times; any time still
// carrying a flag within the window plus its filter extension is then
// flagged across that range. With unflag set the windows are cleared
// instead. The previous flags are kept until RestoreFlags is called.
func (p *PSpecData) BroadcastDsetFlags(spws []uvdata.SpwRange, timeThresh float64, unflag bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(spws) == 0 {
		spws = []uvdata.SpwRange{{Start: 0, End: p.Nfreqs()}}
	}
	for _, s := range spws {
		if s.Start < 0 || s.End > p.Nfreqs() || s.Len() <= 0 {
			return NewConfigError("oqe: spectral window %s outside [0, %d)", s, p.Nfreqs())
		}
	}
	p.ClearCache()

	backup := make([]map[uvdata.BlPol][][]bool, len(p.dsets))
	for i, d := range p.dsets {
		backup[i] = make(map[uvdata.BlPol][][]bool, len(d.Waterfalls))
		for k, w := range d.Waterfalls {
			backup[i][k] = cloneFlags(w.Flags)
		}
	}
	p.mu.Lock()
	p.flagBackup = backup
	p.mu.Unlock()

	for _, d := range p.dsets {
		for _, s := range spws {
			lo, hi := max(s.Start-p.ext[0], 0), min(s.End+p.ext[1], d.Nfreqs())
			for _, w := range d.Waterfalls {
				if unflag {
					for t := range w.Flags {
						for f := lo; f < hi; f++ {
							w.Flags[t][f] = false
						}
					}
					continue
				}
				broadcastWaterfall(w, lo, hi, timeThresh)
			}
		}
	}
	return nil
}

func broadcastWaterfall(w *uvdata.Waterfall, lo, hi int, timeThresh float64) {
	flags := cloneFlags(w.Flags)
	nt := len(flags)
	if nt == 0 {
		return
	}
	nf := len(flags[0])

	contiguous := make([]bool, nt)
	var noncontig int
	for t, row := range flags {
		var n int
		for _, f := range row {
			if f {
				n++
			}
		}
		contiguous[t] = float64(n)/float64(nf) > fullyFlagged
		if !contiguous[t] {
			noncontig++
		}
	}

	exceeds := make([]bool, nf)
	if noncontig > 0 {
		for f := 0; f < nf; f++ {
			var n int
			for t := 0; t < nt; t++ {
				if !contiguous[t] && flags[t][f] {
					n++
				}
			}
			exceeds[f] = float64(n)/float64(noncontig) > timeThresh
		}
	}

	for f, ex := range exceeds {
		if !ex {
			continue
		}
		for t := 0; t < nt; t++ {
			w.Flags[t][f] = true
			flags[t][f] = false
		}
	}

	for t := 0; t < nt; t++ {
		if slices.Contains(flags[t][lo:hi], true) {
			for f := lo; f < hi; f++ {
				w.Flags[t][f] = true
			}
		}
	}
}

// RestoreFlags undoes the last BroadcastDsetFlags.
func (p *PSpecData) RestoreFlags() {
	p.mu.Lock()
	backup := p.flagBackup
	p.flagBackup = nil
	p.mu.Unlock()
	if backup == nil {
		return
	}
	for i, d := range p.dsets {
		if i >= len(backup) {
			break
		}
		for k, flags := range backup[i] {
			if w, ok := d.Waterfalls[k]; ok {
				w.Flags = flags
			}
		}
	}
	p.ClearCache()
}

func cloneFlags(flags [][]bool) [][]bool {
	out := make([][]bool, len(flags))
	for t, row := range flags {
		out[t] = slices.Clone(row)
	}
	return out
}

// TrimDsetLSTs drops from every dataset the times whose LST, formatted to
// tol decimals, is not present in all datasets. Nothing is trimmed when the
// datasets do not share an LST spacing. The datasets are edited in place.
func (p *PSpecData) TrimDsetLSTs(tol int) error {
	if len(p.dsets) == 0 {
		return ErrNoDatasets
	}
	spacing := func(d *uvdata.Dataset) float64 {
		u := slices.Clone(d.LSTs)
		slices.Sort(u)
		u = slices.Compact(u)
		if len(u) < 2 {
			return 0
		}
		diffs := make([]float64, len(u)-1)
		for i := range diffs {
			diffs[i] = u[i+1] - u[i]
		}
		return median(diffs)
	}
	ref := spacing(p.dsets[0])
	for _, d := range p.dsets {
		if math.Abs(spacing(d)-ref) > math.Pow10(-tol)/float64(d.Ntimes()) {
			p.warn(WarnLSTMisaligned, "datasets are not on the same LST grid, cannot trim LSTs",
				slog.String("dataset", d.Label))
			return nil
		}
	}

	formatted := make([][]string, len(p.dsets))
	counts := make(map[string]int)
	for i, d := range p.dsets {
		seen := make(map[string]struct{})
		for _, l := range d.LSTs {
			s := strconv.FormatFloat(l, 'f', tol, 64)
			formatted[i] = append(formatted[i], s)
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				counts[s]++
			}
		}
	}

	for i, d := range p.dsets {
		var keep []int
		for t, s := range formatted[i] {
			if counts[s] == len(p.dsets) {
				keep = append(keep, t)
			}
		}
		if len(keep) == d.Ntimes() {
			continue
		}
		if err := d.SelectTimes(keep); err != nil {
			return fmt.Errorf("trimming dataset %q: %w", d.Label, err)
		}
		p.logger.Debug("trimmed dataset LSTs", slog.String("dataset", d.Label), slog.Int("ntimes", d.Ntimes()))
	}
	p.ClearCache()
	return nil
}

// JyToMK converts every dataset in Jy to mK using the beam conversion of
// each polarisation. Datasets in other units are skipped with a warning.
func (p *PSpecData) JyToMK() error {
	if p.beam == nil {
		return NewConfigError("oqe: cannot convert Jy to mK without a beam")
	}
	factors := make(map[uvdata.Pol][]float64)
	for _, d := range p.dsets {
		for _, pol := range d.Pols {
			if _, ok := factors[pol]; ok {
				continue
			}
			f, err := p.beam.JyToMK(d.Freqs, pol.String())
			if err != nil {
				return fmt.Errorf("jy to mk conversion for %s: %w", pol, err)
			}
			factors[pol] = f
		}
	}

	for i, d := range p.dsets {
		if !strings.EqualFold(d.VisUnits, "Jy") {
			p.warn(WarnUnitsSkipped, "cannot convert dataset from Jy to mK",
				slog.String("dataset", p.labels[i]), slog.String("units", d.VisUnits))
			continue
		}
		for k, w := range d.Waterfalls {
			f := factors[k.Pol]
			for t := range w.Data {
				for c := range w.Data[t] {
					w.Data[t][c] *= complex(f[c], 0)
				}
			}
		}
		d.VisUnits = "mK"
	}
	p.ClearCache()
	return nil
}
