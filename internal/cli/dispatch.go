package cli

import (
	"github.com/spf13/cobra"

	"savingbee-alerts/internal/app"
)

var (
	dispatchBatch       int
	dispatchRetryFailed bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Drain due alert events through the configured transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Dispatch(cmd.Context(), app.DispatchOptions{
			BatchSize:   dispatchBatch,
			RetryFailed: dispatchRetryFailed,
		})
	},
}

func init() {
	dispatchCmd.Flags().IntVar(&dispatchBatch, "batch", 0, "Batch size override")
	dispatchCmd.Flags().BoolVar(&dispatchRetryFailed, "retry-failed", false, "Requeue FAILED events before draining")
}
