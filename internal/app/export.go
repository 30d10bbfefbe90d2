package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xuri/excelize/v2"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/trends"
)

// Export writes an offer's price history as CSV and/or PNG, and the latest
// trend rankings as an XLSX workbook.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	wantHistory := opts.CSVPath != "" || opts.PNGPath != ""
	if !wantHistory && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}
	if wantHistory && opts.OfferID == "" {
		return errors.New("--offer is required for --csv and --png")
	}

	rt, err := a.open(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if wantHistory {
		if err := a.exportHistory(ctx, rt, opts); err != nil {
			return err
		}
	}

	if opts.XLSXPath != "" {
		result, err := trends.AllBands(ctx, rt.reader())
		if err != nil {
			return err
		}
		if err := writeTrendsXLSX(opts.XLSXPath, result); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.XLSXPath).Msg("trend workbook written")
	}
	return nil
}

func (a *App) exportHistory(ctx context.Context, rt *runtime, opts ExportOptions) error {
	maxPoints := a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-time.Duration(maxPoints) * a.Config.Scheduler.PricesInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	history, err := rt.store.PriceHistory(ctx, opts.OfferID, from, to)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("offer_id", opts.OfferID).Msg("no price snapshots found for export window")
		return nil
	}

	lowest, ok, err := rt.store.MinPrice(ctx, opts.OfferID, from, to)
	if err != nil {
		return err
	}
	event := a.Logger.Info().Str("offer_id", opts.OfferID).Int("total", len(history))
	if ok {
		event = event.Str("min_price", formatCents(lowest))
	}

	downsampled := downsampleSnapshots(history, maxPoints)
	event.Int("exported", len(downsampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.OfferID, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleSnapshots(snaps []domain.PriceSnapshot, max int) []domain.PriceSnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]domain.PriceSnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeHistoryCSV(path string, snaps []domain.PriceSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"recorded_at", "offer_id", "price_cents", "price", "is_available"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		record := []string{
			snap.RecordedAt.UTC().Format(time.RFC3339),
			snap.OfferID,
			strconv.FormatInt(snap.PriceCents, 10),
			formatCents(snap.PriceCents),
			strconv.FormatBool(snap.IsAvailable),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path, offerID string, snaps []domain.PriceSnapshot) error {
	if len(snaps) < 2 {
		return errors.New("at least two snapshots are required to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	price := make([]float64, len(snaps))
	available := make([]float64, len(snaps))
	for i, snap := range snaps {
		x[i] = snap.RecordedAt
		price[i] = float64(snap.PriceCents) / 100
		if snap.IsAvailable {
			available[i] = 1
		}
	}

	graph := chart.Chart{
		Title:  "Price history " + offerID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Price (USD)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "$%.2f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Available",
			Range: &chart.ContinuousRange{Min: 0, Max: 1},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Available",
				XValues: x,
				YValues: available,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeTrendsXLSX(path string, result map[domain.AgeBand][]domain.TrendingProduct) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	header := []interface{}{"Rank", "Product ID", "Title", "Score", "Badges", "Best Offer", "Merchant", "Price (USD)", "Commission (bps)", "As Of (UTC)"}
	for i, band := range domain.AgeBands() {
		sheet := sheetName(band)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for r, item := range result[band] {
			row := []interface{}{
				item.Rank,
				item.ProductID,
				item.Title,
				item.Score,
				joinBadges(item.Badges),
				"", "", "", "",
				item.AsOf.UTC().Format(time.RFC3339),
			}
			if o := item.BestOffer; o != nil {
				row[5] = o.ID
				row[6] = o.MerchantName
				row[7] = float64(o.PriceCents) / 100
				row[8] = o.CommissionRateBps
			}
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}

	return f.SaveAs(path)
}

// sheetName maps a band label to a valid worksheet name.
func sheetName(band domain.AgeBand) string {
	return "Ages " + string(band)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
