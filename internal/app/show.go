package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pricewatch/internal/threshold"
)

// Show prints the most recent history record per configured asset.
func (a *App) Show(ctx context.Context, w io.Writer, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	table := threshold.DefaultTable()
	records, err := store.Latest(ctx, table.Assets())
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(records) == 0 {
		fmt.Fprintln(writer, "no price history found")
	} else {
		fmt.Fprintln(writer, "Asset\tPrice (USD)\tRecorded (UTC)\tID")
		for _, rec := range records {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
				rec.Asset,
				rec.Price.String(),
				rec.InsertedAt.UTC().Format(time.RFC3339),
				rec.ID,
			)
		}
	}

	if opts.Bands {
		fmt.Fprintln(writer)
		fmt.Fprintln(writer, "Asset\tBand\tRange")
		for _, asset := range table.Assets() {
			bands, _ := table.Bands(asset)
			for _, b := range bands {
				fmt.Fprintf(writer, "%s\t%s\t(%s, %s]\n", asset, b.Label, b.Min, b.Max)
			}
		}
		if err := table.Validate(); err != nil {
			fmt.Fprintf(writer, "warning: %v\n", err)
		}
	}

	return writer.Flush()
}
