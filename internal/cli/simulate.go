package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateProduct string
	simulateBank    string
	simulateTerm    int
	simulateBase    string
	simulatePref    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic notification through the configured transport",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateProduct == "" || simulateBase == "" {
			return errors.New("--product and --base-rate are required")
		}
		if simulateTerm <= 0 {
			return errors.New("--term must be greater than 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateProduct, simulateBank, simulateTerm, simulateBase, simulatePref)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateProduct, "product", "", "Product name")
	simulateCmd.Flags().StringVar(&simulateBank, "bank", "Test Bank", "Bank name")
	simulateCmd.Flags().IntVar(&simulateTerm, "term", 12, "Term in months")
	simulateCmd.Flags().StringVar(&simulateBase, "base-rate", "", "Base rate in percent")
	simulateCmd.Flags().StringVar(&simulatePref, "pref-rate", "", "Preferential rate in percent")
}
