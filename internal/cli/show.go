package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kringlewatch/internal/app"
)

var (
	trendsBand string
	trendsJSON bool

	alertsEmail string
	alertsDays  int
	alertsLimit int
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Display the latest trend rankings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowTrends(cmd.Context(), app.ShowTrendsOptions{
			Band: trendsBand,
			JSON: trendsJSON,
		})
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recently sent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if alertsDays < 0 {
			return fmt.Errorf("--days must not be negative")
		}
		return getApp().ShowAlerts(cmd.Context(), app.ShowAlertsOptions{
			Email: alertsEmail,
			Days:  alertsDays,
			Limit: alertsLimit,
		})
	},
}

func init() {
	trendsCmd.Flags().StringVar(&trendsBand, "band", "", "Age band to show (0-2, 3-4, 5-7, 8-10, 11-13, 14+); all bands when empty")
	trendsCmd.Flags().BoolVar(&trendsJSON, "json", false, "Print JSON instead of a table")

	alertsCmd.Flags().StringVar(&alertsEmail, "email", "", "Only show alerts sent to this recipient")
	alertsCmd.Flags().IntVar(&alertsDays, "days", 7, "Look back this many days (0 for all)")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "Number of alerts to display")
}
