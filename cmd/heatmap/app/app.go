package app

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"

	"github.com/roman-kulish/radio-pspec/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	spec, err := readSpectrum(ctx, store, config, logger)
	if err != nil {
		return err
	}

	img, err := render(spec, config, logger)
	if err != nil {
		return err
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	if err = encode(out, img, config.Format); err != nil {
		_ = out.Close()
		return fmt.Errorf("encoding image: %w", err)
	}
	return out.Close()
}

func readSpectrum(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*DelaySpectrum, error) {
	opts := []storage.ReaderOption{storage.WithSpw(config.Spw)}
	filters := []any{slog.Int("spw", config.Spw), slog.Int("polpair", config.Polpair)}

	if config.Blpair != nil {
		opts = append(opts, storage.WithBlpair(*config.Blpair))
		filters = append(filters, slog.Int64("blpair", *config.Blpair))
	}
	if config.MinLST != nil && config.MaxLST != nil {
		opts = append(opts, storage.WithLSTRange(*config.MinLST, *config.MaxLST))
		filters = append(filters,
			slog.String("minLST", formatLST(*config.MinLST)),
			slog.String("maxLST", formatLST(*config.MaxLST)))
	}

	logger.Info("reader configuration", filters...)

	iter, err := store.ReadSpectrum(ctx, config.Group, config.Name, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	spec, err := NewDelaySpectrum(iter.Spectrum(), config.Spw, config.Polpair, NewPowerTracker())
	if err != nil {
		return nil, err
	}
	spec.Group, spec.Name = config.Group, config.Name
	spec.MinPower, spec.MaxPower = config.MinPower, config.MaxPower

	for iter.Next(ctx) {
		row := iter.Current()
		logger.Debug("row", slog.Int("blpt", row.Blpt), slog.Int64("blpair", row.Blpair), slog.String("lst", formatLST(row.LSTAvg)))
		spec.Update(row, config.Polpair)
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	bounds := spec.Bounds()
	logger.Info("finished reading spectrum",
		slog.Group("stats",
			slog.Int("rows", spec.Height),
			slog.Int("delays", spec.Width),
			slog.String("minLST", formatLST(spec.LSTMin)),
			slog.String("maxLST", formatLST(spec.LSTMax)),
			slog.String("minPower", fmt.Sprintf("%0.2fdB", bounds.Min)),
			slog.String("maxPower", fmt.Sprintf("%0.2fdB", bounds.Max)),
			slog.String("medianPower", fmt.Sprintf("%0.2fdB", bounds.Median)),
			slog.Int("levels", bounds.Samples),
			slog.String("units", bounds.Units),
		))

	return spec, nil
}

func render(spec *DelaySpectrum, config *Config, logger *slog.Logger) (*image.RGBA, error) {
	renderer, err := NewSpectrumRenderer(RenderConfig{
		CellWidth:     config.CellWidth,
		CellHeight:    config.CellHeight,
		ColorTheme:    config.Theme,
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return nil, fmt.Errorf("creating spectrum renderer: %w", err)
	}

	logger.Info("rendering spectrum",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.String("theme", string(config.Theme)),
			slog.Int("width", spec.Width*config.CellWidth),
			slog.Int("height", spec.Height*config.CellHeight),
		))

	img, err := renderer.Render(spec)
	if err != nil {
		return nil, fmt.Errorf("rendering spectrum: %w", err)
	}
	return img, nil
}

func encode(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{
			Quality: 98,
		})
	default:
		return fmt.Errorf("unsupported image format: %s", format)
	}
}
