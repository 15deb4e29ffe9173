package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roman-kulish/radio-pspec/internal/storage"
	"github.com/roman-kulish/radio-pspec/internal/uvdata"
)

// Simulate writes the configured synthetic datasets to the store.
func Simulate(ctx context.Context, config *Config, overwrite bool, logger *slog.Logger) error {
	if len(config.Simulate) == 0 {
		return errors.New("no simulate section in configuration")
	}

	store := storage.NewSqliteStore(config.Settings.DB)
	defer store.Close()

	return simulate(ctx, store, config.Simulate, overwrite, logger)
}

func simulate(ctx context.Context, store storage.Store, opts []uvdata.SimulateOptions, overwrite bool, logger *slog.Logger) error {
	for _, o := range opts {
		d, err := uvdata.Simulate(o)
		if err != nil {
			return fmt.Errorf("simulating %q: %w", o.Label, err)
		}

		id, err := store.SaveDataset(ctx, d, overwrite)
		if err != nil {
			return fmt.Errorf("storing %q: %w", o.Label, err)
		}

		logger.Info("stored dataset",
			slog.String("label", d.Label),
			slog.Int64("id", id),
			slog.Int("times", d.Ntimes()),
			slog.Int("freqs", d.Nfreqs()),
			slog.Int("waterfalls", len(d.Waterfalls)))
	}
	return nil
}
