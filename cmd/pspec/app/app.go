package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/radio-pspec/internal/beam"
	"github.com/roman-kulish/radio-pspec/internal/cosmo"
	"github.com/roman-kulish/radio-pspec/internal/oqe"
	"github.com/roman-kulish/radio-pspec/internal/storage"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// Run loads the configured datasets from the store, estimates the power
// spectrum of every dataset pair and stores the results in one group.
// It returns the names of the stored spectra.
func Run(ctx context.Context, config *Config, logger *slog.Logger) ([]string, error) {
	if config.Run == nil {
		return nil, errors.New("no run section in configuration")
	}

	store := storage.NewSqliteStore(config.Settings.DB)
	defer store.Close()

	return runPSpec(ctx, store, config.Run, logger)
}

func runPSpec(ctx context.Context, store storage.Store, rc *RunConfig, logger *slog.Logger) ([]string, error) {
	dsets, std, labels, err := loadDatasets(ctx, store, rc.Datasets)
	if err != nil {
		return nil, err
	}

	c := cosmo.Default()
	if rc.Cosmo != nil {
		if c, err = cosmo.New(*rc.Cosmo); err != nil {
			return nil, fmt.Errorf("creating cosmology: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	opts := []oqe.Option{
		oqe.WithLogger(logger),
		oqe.WithLabels(labels...),
		oqe.WithRegisterer(reg),
	}
	if std != nil {
		opts = append(opts, oqe.WithStd(std...))
	}
	if rc.Beam != nil {
		b, err := beam.NewGaussian(rc.Beam.FWHM, dsets[0].Freqs, c)
		if err != nil {
			return nil, fmt.Errorf("creating beam: %w", err)
		}
		opts = append(opts, oqe.WithBeam(b))
	}

	p, err := oqe.New(dsets, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating estimator: %w", err)
	}

	if rc.TrimLSTs {
		if err = p.TrimDsetLSTs(oqe.DefaultLSTTol); err != nil {
			return nil, fmt.Errorf("trimming LSTs: %w", err)
		}
	}
	if rc.JyToMK {
		if err = p.JyToMK(); err != nil {
			return nil, fmt.Errorf("converting units: %w", err)
		}
	}

	spws := rc.Spws
	if len(rc.FreqRanges) > 0 {
		if spws, err = uvdata.SpwRangeFromFreqs(p.Freqs(), rc.FreqRanges, true); err != nil {
			return nil, fmt.Errorf("selecting spectral windows: %w", err)
		}
	}
	if rc.BroadcastFlags {
		if err = p.BroadcastDsetFlags(spws, rc.TimeThresh, false); err != nil {
			return nil, fmt.Errorf("broadcasting flags: %w", err)
		}
	}

	bls := rc.Baselines
	if len(bls) == 0 {
		bls = dsets[0].Antpairs()
	}
	bls1, bls2 := uvdata.ConstructBlpairs(bls, uvdata.BlpairOptions{
		ExcludeAutoBls:      rc.ExcludeAutoBls,
		ExcludePermutations: rc.ExcludePermutations,
	})

	group := rc.Group
	if group == "" {
		group = strings.Join(labels, "_")
	}

	var names []string
	for _, pair := range rc.Pairs {
		if err = ctx.Err(); err != nil {
			return names, err
		}

		uvp, err := p.PSpec(ctx, oqe.PSpecOptions{
			Bls1:        bls1,
			Bls2:        bls2,
			Dsets:       pair,
			Pols:        rc.Pols,
			Spws:        spws,
			Ndlys:       rc.Ndlys,
			Extensions:  rc.Extensions,
			Weighting:   rc.Weighting,
			Norm:        rc.Norm,
			Taper:       rc.Taper,
			Sampling:    rc.Sampling,
			LittleH:     rc.LittleH,
			BaselineTol: rc.BaselineTol,
			StoreCov:    rc.StoreCov,
			CovModel:    rc.CovModel,
			ExactNorm:   rc.ExactNorm,
			History:     rc.History,
			RParams:     rParams(rc, dsets, pair, bls1, bls2),
			Workers:     rc.Workers,
		})
		if err != nil {
			return names, fmt.Errorf("estimating %s x %s: %w", labels[pair[0]], labels[pair[1]], err)
		}

		name := fmt.Sprintf("%s_x_%s%s", labels[pair[0]], labels[pair[1]], rc.NameExt)
		if err = store.SetPSpec(ctx, group, name, uvp, rc.Overwrite); err != nil {
			return names, fmt.Errorf("storing %s/%s: %w", group, name, err)
		}
		names = append(names, name)

		logger.Info("stored power spectrum",
			slog.String("group", group),
			slog.String("name", name),
			slog.Int("spws", uvp.Nspws()),
			slog.Int("blpairts", uvp.Nblpairts()))
	}

	p.Cache().LogSize()
	if n := len(p.Warnings()); n > 0 {
		logger.Warn("estimation finished with warnings", slog.Int("count", n))
	}
	return names, nil
}

func loadDatasets(ctx context.Context, store storage.Store, configs []DatasetConfig) (dsets, std []*uvdata.Dataset, labels []string, err error) {
	hasStd := slices.ContainsFunc(configs, func(c DatasetConfig) bool { return c.Std != "" })
	for _, dc := range configs {
		d, err := store.Dataset(ctx, dc.Label)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading dataset: %w", err)
		}
		dsets = append(dsets, d)
		labels = append(labels, dc.Label)

		if !hasStd {
			continue
		}
		var s *uvdata.Dataset
		if dc.Std != "" {
			if s, err = store.Dataset(ctx, dc.Std); err != nil {
				return nil, nil, nil, fmt.Errorf("loading std dataset: %w", err)
			}
		}
		std = append(std, s)
	}
	return dsets, std, labels, nil
}

// rParams assigns the configured filter parameters to every stream the
// dataset pair reads.
func rParams(rc *RunConfig, dsets []*uvdata.Dataset, pair [2]int, bls1, bls2 []uvdata.Antpair) map[uvdata.Key]oqe.RParams {
	if rc.RParams == nil {
		return nil
	}
	out := make(map[uvdata.Key]oqe.RParams)
	for _, pp := range rc.Pols {
		for i := range bls1 {
			for side, ap := range [2]uvdata.Antpair{bls1[i], bls2[i]} {
				d := pair[side]
				if dsets[d].Has(ap, pp[side]) {
					out[uvdata.Key{Dataset: d, Antpair: ap, Pol: pp[side]}] = *rc.RParams
				}
			}
		}
	}
	return out
}
