package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/metrics"
	"kringlewatch/internal/storage"
)

// Policy holds the send limits applied to every recipient.
type Policy struct {
	DailyLimit int
	// QuietStart and QuietEnd bound the quiet window [start, end) in local
	// wall-clock hours; the window may wrap midnight. Equal values disable it.
	QuietStart int
	QuietEnd   int
	Location   *time.Location
}

// DefaultPolicy is five alerts a day with quiet hours from 22:00 to 08:00 local.
func DefaultPolicy() Policy {
	return Policy{DailyLimit: 5, QuietStart: 22, QuietEnd: 8, Location: time.Local}
}

// IsQuiet reports whether t falls inside the quiet window.
func (p Policy) IsQuiet(t time.Time) bool {
	if p.QuietStart == p.QuietEnd {
		return false
	}
	hour := t.In(p.location()).Hour()
	if p.QuietStart < p.QuietEnd {
		return hour >= p.QuietStart && hour < p.QuietEnd
	}
	return hour >= p.QuietStart || hour < p.QuietEnd
}

// DayStart returns local midnight of the day containing t.
func (p Policy) DayStart(t time.Time) time.Time {
	local := t.In(p.location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.location())
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// DispatchReport counts per-recipient outcomes of one dispatch run.
type DispatchReport struct {
	Recipients  int
	Sent        int
	RateLimited int
	Deferred    int
	Failed      int
	HistoryRows int
}

// Dispatcher bundles alert events per recipient and sends them under Policy.
type Dispatcher struct {
	history  storage.AlertHistoryStore
	notifier Notifier
	policy   Policy
	now      func() time.Time
	logger   zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(history storage.AlertHistoryStore, notifier Notifier, policy Policy, logger zerolog.Logger) *Dispatcher {
	if policy.DailyLimit <= 0 {
		policy.DailyLimit = DefaultPolicy().DailyLimit
	}
	return &Dispatcher{
		history:  history,
		notifier: notifier,
		policy:   policy,
		now:      time.Now,
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// WithClock overrides the wall clock used for quiet hours and daily counts.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// BundleAndDispatch sends at most one bundle per recipient. Rate-limited and
// quiet-hour recipients are skipped for this run; a failure for one recipient
// does not affect the others.
func (d *Dispatcher) BundleAndDispatch(ctx context.Context, events []domain.PriceAlertEvent) (DispatchReport, error) {
	var report DispatchReport
	if len(events) == 0 {
		d.logger.Debug().Msg("no alerts to dispatch")
		return report, nil
	}

	order, grouped := groupByRecipient(events)
	report.Recipients = len(order)
	d.logger.Info().Int("recipients", len(order)).Int("events", len(events)).Msg("dispatching alerts")

	for _, email := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, rows, err := d.dispatchRecipient(ctx, email, grouped[email])
		if err != nil {
			d.logger.Error().Err(err).Str("recipient", email).Msg("failed to dispatch alerts")
		}
		metrics.RecordDispatch(outcome)
		report.HistoryRows += rows
		switch outcome {
		case "sent":
			report.Sent++
		case "rate_limited":
			report.RateLimited++
		case "deferred":
			report.Deferred++
		default:
			report.Failed++
		}
	}

	d.logger.Info().
		Int("sent", report.Sent).
		Int("rate_limited", report.RateLimited).
		Int("deferred", report.Deferred).
		Int("failed", report.Failed).
		Msg("alert dispatch finished")
	return report, nil
}

func (d *Dispatcher) dispatchRecipient(ctx context.Context, email string, events []domain.PriceAlertEvent) (string, int, error) {
	now := d.now()

	count, err := d.history.CountAlertsSince(ctx, email, d.policy.DayStart(now))
	if err != nil {
		return "failed", 0, fmt.Errorf("count today's alerts: %w", err)
	}
	if count >= d.policy.DailyLimit {
		d.logger.Info().Str("recipient", email).Int("sent_today", count).Msg("rate limit reached, skipping")
		return "rate_limited", 0, nil
	}

	bundle := Bundle{RecipientEmail: email, GeneratedAt: now}
	for _, ev := range events {
		switch ev.Type {
		case domain.AlertPriceDrop:
			bundle.PriceDrops = append(bundle.PriceDrops, ev)
		case domain.AlertRestock:
			bundle.Restocks = append(bundle.Restocks, ev)
		}
	}

	if d.policy.IsQuiet(now) {
		d.logger.Info().Str("recipient", email).Int("hour", now.In(d.policy.location()).Hour()).Msg("quiet hours, deferring alerts")
		return "deferred", 0, nil
	}

	if err := d.notifier.Notify(ctx, bundle); err != nil {
		return "failed", 0, fmt.Errorf("notify: %w", err)
	}

	rows := make([]domain.AlertHistory, 0, len(events))
	for _, ev := range events {
		rows = append(rows, domain.AlertHistory{
			ID:             uuid.NewString(),
			RecipientEmail: email,
			BagItemID:      ev.BagItemID,
			Type:           ev.Type,
			SentAt:         now,
			PriceDropCents: ev.PriceDropCents(),
		})
	}
	if err := d.history.InsertAlertHistory(ctx, rows); err != nil {
		return "sent", 0, fmt.Errorf("record alert history: %w", err)
	}

	d.logger.Info().Str("recipient", email).Int("alerts", len(events)).Msg("alerts sent")
	return "sent", len(rows), nil
}

func groupByRecipient(events []domain.PriceAlertEvent) ([]string, map[string][]domain.PriceAlertEvent) {
	var order []string
	grouped := make(map[string][]domain.PriceAlertEvent)
	for _, ev := range events {
		if _, ok := grouped[ev.RecipientEmail]; !ok {
			order = append(order, ev.RecipientEmail)
		}
		grouped[ev.RecipientEmail] = append(grouped[ev.RecipientEmail], ev)
	}
	return order, grouped
}
