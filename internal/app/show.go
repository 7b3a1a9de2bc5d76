package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the most recent alert events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	events, err := store.ListRecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no alert events")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSETTING\tKIND\tPRODUCT\tSTATUS\tATTEMPTS\tSEND NOT BEFORE\tSENT AT\tERROR")
	for _, event := range events {
		sentAt := "-"
		if event.SentAt != nil {
			sentAt = event.SentAt.Format(time.RFC3339)
		}
		lastError := "-"
		if event.LastError != nil {
			lastError = *event.LastError
		}
		fmt.Fprintf(writer, "%d\t%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			event.ID,
			event.SettingID,
			event.ProductKind,
			event.ProductCode,
			event.Status,
			event.Attempts,
			event.SendNotBefore.Format(time.RFC3339),
			sentAt,
			lastError,
		)
	}
	return writer.Flush()
}
