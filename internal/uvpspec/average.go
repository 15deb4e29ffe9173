package uvpspec

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// minWeight keeps averages defined when every weight is zero.
const minWeight = 1e-10

// AverageTime returns a copy with every baseline pair averaged over its
// times. Spectra, weights and integrations are weighted by
// integration * sqrt(nsamples); sample counts are summed. Covariances are
// not carried over.
func (u *UVPSpec) AverageTime() (*UVPSpec, error) {
	if err := u.Check(); err != nil {
		return nil, err
	}
	blps := u.GetBlpairs()
	out := *u
	out.Cov = nil
	out.Ntimes = 1
	out.Data = make([][][][]complex128, u.Nspws())
	out.Wgts = make([][][][2][]float64, u.Nspws())
	out.Integrations = make([][][]float64, u.Nspws())
	out.Nsamples = make([][][]float64, u.Nspws())
	npol := u.Npols()

	for s, spw := range u.Spws {
		nd, nf := len(spw.Delays), len(spw.Freqs)
		out.Data[s] = make([][][]complex128, len(blps))
		out.Wgts[s] = make([][][2][]float64, len(blps))
		out.Integrations[s] = make([][]float64, len(blps))
		out.Nsamples[s] = make([][]float64, len(blps))

		for k, blp := range blps {
			idx := u.BlpairIndices(blp)
			data := make([][]complex128, nd)
			for d := range data {
				data[d] = make([]complex128, npol)
			}
			wgts := make([][2][]float64, nf)
			for f := range wgts {
				wgts[f] = [2][]float64{make([]float64, npol), make([]float64, npol)}
			}
			ints := make([]float64, npol)
			nsmp := make([]float64, npol)

			for p := 0; p < npol; p++ {
				var wsum float64
				for _, i := range idx {
					w := u.Integrations[s][i][p] * math.Sqrt(u.Nsamples[s][i][p])
					wsum += w
					for d := 0; d < nd; d++ {
						data[d][p] += u.Data[s][i][d][p] * complex(w, 0)
					}
					for f := 0; f < nf; f++ {
						wgts[f][0][p] += u.Wgts[s][i][f][0][p] * w
						wgts[f][1][p] += u.Wgts[s][i][f][1][p] * w
					}
					ints[p] += u.Integrations[s][i][p] * w
					nsmp[p] += u.Nsamples[s][i][p]
				}
				wsum = math.Max(wsum, minWeight)
				for d := 0; d < nd; d++ {
					data[d][p] /= complex(wsum, 0)
				}
				for f := 0; f < nf; f++ {
					wgts[f][0][p] /= wsum
					wgts[f][1][p] /= wsum
				}
				ints[p] /= wsum
			}
			out.Data[s][k] = data
			out.Wgts[s][k] = wgts
			out.Integrations[s][k] = ints
			out.Nsamples[s][k] = nsmp
		}
	}

	out.Blpairs = slices.Clone(blps)
	out.Time1 = make([]float64, len(blps))
	out.Time2 = make([]float64, len(blps))
	out.TimeAvg = make([]float64, len(blps))
	out.LST1 = make([]float64, len(blps))
	out.LST2 = make([]float64, len(blps))
	out.LSTAvg = make([]float64, len(blps))
	for k, blp := range blps {
		idx := u.BlpairIndices(blp)
		out.Time1[k] = meanAt(u.Time1, idx)
		out.Time2[k] = meanAt(u.Time2, idx)
		out.TimeAvg[k] = meanAt(u.TimeAvg, idx)
		out.LST1[k] = wrap2Pi(meanAt(Unwrap(pick(u.LST1, idx)), nil))
		out.LST2[k] = wrap2Pi(meanAt(Unwrap(pick(u.LST2, idx)), nil))
		out.LSTAvg[k] = wrap2Pi(meanAt(Unwrap(pick(u.LSTAvg, idx)), nil))
	}
	out.History = u.History + "\nAveraged over time."

	if err := out.Check(); err != nil {
		return nil, err
	}
	return &out, nil
}

func pick(v []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for j, i := range idx {
		out[j] = v[i]
	}
	return out
}

// meanAt averages v at idx, or all of v when idx is nil.
func meanAt(v []float64, idx []int) float64 {
	if idx != nil {
		v = pick(v, idx)
	}
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}
