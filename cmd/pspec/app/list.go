package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/radio-pspec/internal/storage"
)

// List writes the stored datasets and the spectra of every group to w.
func List(ctx context.Context, db string, w io.Writer) error {
	store := storage.NewSqliteStore(db)
	defer store.Close()

	return list(ctx, store, w)
}

func list(ctx context.Context, store storage.Store, w io.Writer) error {
	datasets, err := store.Datasets(ctx)
	if err != nil {
		return fmt.Errorf("listing datasets: %w", err)
	}
	groups, err := store.Groups(ctx)
	if err != nil {
		return fmt.Errorf("listing groups: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "DATASET\tTIMES\tFREQS\tCREATED")
	for _, d := range datasets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Label, humanize.Comma(int64(d.Ntimes)),
			humanize.Comma(int64(d.Nfreqs)), humanize.Time(d.CreatedAt))
	}

	for _, g := range groups {
		spectra, err := store.Spectra(ctx, g)
		if err != nil {
			return fmt.Errorf("listing group %q: %w", g, err)
		}

		fmt.Fprintf(tw, "\nGROUP %s\tSPWS\tPOLPAIRS\tBLPAIR-TIMES\tCOV\tCREATED\n", g)
		for _, s := range spectra {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%t\t%s\n", s.Name, s.Nspws, s.Npols,
				humanize.Comma(int64(s.Nblpairts)), s.HasCov, humanize.Time(s.CreatedAt))
		}
	}

	return tw.Flush()
}
