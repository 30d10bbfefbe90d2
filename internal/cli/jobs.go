package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	computeAt string
	monitorAt string
)

var computeTrendsCmd = &cobra.Command{
	Use:   "compute-trends",
	Short: "Compute trend rankings once",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(computeAt)
		if err != nil {
			return err
		}
		return getApp().ComputeTrends(cmd.Context(), at)
	},
}

var monitorPricesCmd = &cobra.Command{
	Use:   "monitor-prices",
	Short: "Check bag item prices once and dispatch alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := parseAt(monitorAt)
		if err != nil {
			return err
		}
		return getApp().MonitorPrices(cmd.Context(), at)
	},
}

func init() {
	computeTrendsCmd.Flags().StringVar(&computeAt, "at", "", "Run as of this timestamp (RFC3339, defaults to now)")
	monitorPricesCmd.Flags().StringVar(&monitorAt, "at", "", "Run as of this timestamp (RFC3339, defaults to now)")
}

func parseAt(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value: %w", err)
	}
	return at.UTC(), nil
}
