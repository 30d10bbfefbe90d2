package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"kringlewatch/internal/alerting"
	"kringlewatch/internal/domain"
	"kringlewatch/internal/pricewatch"
	"kringlewatch/internal/storage/memory"
)

// SimulateAlert sends one synthetic alert through the configured channel.
// Rate-limit history is kept in memory so real counts are untouched.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	event, err := simulatedEvent(opts)
	if err != nil {
		return err
	}

	policy, err := a.dispatchPolicy()
	if err != nil {
		return err
	}
	if opts.IgnoreQuiet {
		policy.QuietStart, policy.QuietEnd = 0, 0
	}

	dispatcher := alerting.NewDispatcher(memory.NewStore(), a.newNotifier(), policy, a.Logger)
	report, err := dispatcher.BundleAndDispatch(ctx, []domain.PriceAlertEvent{event})
	if err != nil {
		return err
	}

	switch {
	case report.Sent == 1:
		a.Logger.Info().Str("recipient", opts.Email).Msg("simulated alert sent")
		return nil
	case report.Deferred == 1:
		return errors.New("alert deferred by quiet hours, pass --ignore-quiet to send anyway")
	default:
		return errors.New("simulated alert was not sent, check the logs")
	}
}

func simulatedEvent(opts SimulateOptions) (domain.PriceAlertEvent, error) {
	if opts.Email == "" {
		return domain.PriceAlertEvent{}, errors.New("--email is required")
	}
	if opts.NewCents <= 0 {
		return domain.PriceAlertEvent{}, errors.New("--new must be positive")
	}

	title := opts.Title
	if title == "" {
		title = "Sample Toy"
	}
	event := domain.PriceAlertEvent{
		BagItemID:      "sim-" + uuid.NewString(),
		OfferID:        "sim-offer",
		RecipientID:    "sim-user",
		RecipientEmail: opts.Email,
		SubjectLabel:   "your kid",
		ProductTitle:   title,
		NewPriceCents:  opts.NewCents,
		MerchantName:   "Simulated Store",
	}

	if opts.Restock {
		event.Type = domain.AlertRestock
		return event, nil
	}

	if opts.OldCents <= opts.NewCents {
		return domain.PriceAlertEvent{}, errors.New("--old must be greater than --new for a price drop")
	}
	old := opts.OldCents
	pct := pricewatch.DropPercentage(old, opts.NewCents)
	event.Type = domain.AlertPriceDrop
	event.OldPriceCents = &old
	event.DropPercentage = &pct
	return event, nil
}
