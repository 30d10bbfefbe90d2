package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"kringlewatch/internal/app"
)

var (
	simulateEmail       string
	simulateTitle       string
	simulateOld         string
	simulateNew         string
	simulateRestock     bool
	simulateIgnoreQuiet bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic price drop or restock alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		newCents, err := parseDollars(simulateNew)
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{
			Email:       simulateEmail,
			Title:       simulateTitle,
			NewCents:    newCents,
			Restock:     simulateRestock,
			IgnoreQuiet: simulateIgnoreQuiet,
		}
		if !simulateRestock {
			if opts.OldCents, err = parseDollars(simulateOld); err != nil {
				return err
			}
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateEmail, "email", "", "Recipient email address")
	simulateCmd.Flags().StringVar(&simulateTitle, "title", "", "Product title to show in the alert")
	simulateCmd.Flags().StringVar(&simulateOld, "old", "", "Previous price in dollars, e.g. 24.99")
	simulateCmd.Flags().StringVar(&simulateNew, "new", "", "Current price in dollars, e.g. 19.99")
	simulateCmd.Flags().BoolVar(&simulateRestock, "restock", false, "Simulate a restock instead of a price drop")
	simulateCmd.Flags().BoolVar(&simulateIgnoreQuiet, "ignore-quiet", false, "Send even during quiet hours")
}

// parseDollars converts a dollar amount to whole cents.
func parseDollars(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("price flags must be provided")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, err
	}
	if !d.IsPositive() {
		return 0, errors.New("prices must be greater than zero")
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
