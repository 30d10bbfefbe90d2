package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/storage"
	"kringlewatch/internal/trends"
)

// ShowTrends prints the latest ranking of one band, or of every band.
func (a *App) ShowTrends(ctx context.Context, opts ShowTrendsOptions) error {
	rt, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	src := rt.reader()
	result := make(map[domain.AgeBand][]domain.TrendingProduct)
	if opts.Band != "" {
		band, err := domain.ParseAgeBand(opts.Band)
		if err != nil {
			return err
		}
		items, err := src.LatestTrends(ctx, band)
		if err != nil {
			return err
		}
		result[band] = items
	} else {
		result, err = trends.AllBands(ctx, src)
		if err != nil {
			return err
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return writeTrendsTable(os.Stdout, result)
}

func writeTrendsTable(out io.Writer, result map[domain.AgeBand][]domain.TrendingProduct) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Band\tRank\tProduct\tTitle\tScore\tBest Offer\tBadges\tAs Of (UTC)")

	rows := 0
	for _, band := range domain.AgeBands() {
		for _, item := range result[band] {
			rows++
			fmt.Fprintf(
				writer,
				"%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				band,
				item.Rank,
				item.ProductID,
				sanitizeInline(item.Title),
				decimal.NewFromFloat(item.Score).StringFixed(1),
				formatOffer(item.BestOffer),
				joinBadges(item.Badges),
				item.AsOf.UTC().Format(time.RFC3339),
			)
		}
	}
	if rows == 0 {
		fmt.Fprintln(writer, "no trend snapshots found")
	}
	return writer.Flush()
}

// ShowAlerts prints the recent alert history of a recipient.
func (a *App) ShowAlerts(ctx context.Context, opts ShowAlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	filter := storage.AlertHistoryFilter{
		RecipientEmail: opts.Email,
		Limit:          opts.Limit,
	}
	if opts.Days > 0 {
		filter.Since = time.Now().UTC().AddDate(0, 0, -opts.Days)
	}

	rows, err := store.ListAlertHistory(ctx, filter)
	if err != nil {
		return err
	}
	return writeAlertsTable(os.Stdout, rows)
}

func writeAlertsTable(out io.Writer, rows []domain.AlertHistory) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tRecipient\tBag Item\tType\tDrop")
	for _, row := range rows {
		drop := "-"
		if row.PriceDropCents != nil {
			drop = formatCents(*row.PriceDropCents)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			row.SentAt.UTC().Format(time.RFC3339),
			row.RecipientEmail,
			row.BagItemID,
			row.Type,
			drop,
		)
	}
	return writer.Flush()
}

func formatOffer(o *domain.Offer) string {
	if o == nil {
		return "-"
	}
	return fmt.Sprintf("%s @ %s", formatCents(o.PriceCents), sanitizeInline(o.MerchantName))
}

func joinBadges(badges []domain.Badge) string {
	if len(badges) == 0 {
		return "-"
	}
	parts := make([]string, len(badges))
	for i, b := range badges {
		parts[i] = string(b)
	}
	return strings.Join(parts, ", ")
}

func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
