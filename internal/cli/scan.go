package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"savingbee-alerts/internal/app"
)

var scanSince string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one catalog scan and enqueue matching events",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ScanOptions{}
		if scanSince != "" {
			ts, err := time.Parse(time.RFC3339, scanSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = &ts
		}
		return getApp().Scan(cmd.Context(), opts)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanSince, "since", "", "Override every setting's watermark (RFC3339)")
}
