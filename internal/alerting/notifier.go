package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"kringlewatch/internal/domain"
)

// Bundle is one recipient's alerts for a single dispatch run.
type Bundle struct {
	RecipientEmail string
	PriceDrops     []domain.PriceAlertEvent
	Restocks       []domain.PriceAlertEvent
	GeneratedAt    time.Time
}

// Len returns the number of events in the bundle.
func (b Bundle) Len() int {
	return len(b.PriceDrops) + len(b.Restocks)
}

// Subject is the e-mail subject line of the bundle.
func (b Bundle) Subject() string {
	if b.Len() == 1 {
		return "1 Gift Alert"
	}
	return fmt.Sprintf("%d Gift Alerts", b.Len())
}

// Notifier delivers a bundled alert to its recipient.
type Notifier interface {
	Notify(ctx context.Context, bundle Bundle) error
}

// ResendNotifier sends bundles through the Resend e-mail API.
type ResendNotifier struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewResendNotifier constructs a Resend-backed notifier.
func NewResendNotifier(apiKey, from, baseURL string, timeout time.Duration, logger zerolog.Logger) *ResendNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}

	return &ResendNotifier{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_resend").Logger(),
	}
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Notify posts the bundle to the /emails endpoint.
func (n *ResendNotifier) Notify(ctx context.Context, bundle Bundle) error {
	body, err := json.Marshal(resendEmail{
		From:    n.from,
		To:      []string{bundle.RecipientEmail},
		Subject: bundle.Subject(),
		Text:    renderMessage(bundle),
	})
	if err != nil {
		return fmt.Errorf("marshal resend payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send resend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("resend responded %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&result)

	n.logger.Info().
		Str("recipient", bundle.RecipientEmail).
		Str("email_id", result.ID).
		Int("price_drops", len(bundle.PriceDrops)).
		Int("restocks", len(bundle.Restocks)).
		Msg("alert e-mail sent")
	return nil
}

// LogNotifier writes bundles to the log instead of sending them.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered bundle.
func (n *LogNotifier) Notify(_ context.Context, bundle Bundle) error {
	n.logger.Info().
		Str("recipient", bundle.RecipientEmail).
		Str("subject", bundle.Subject()).
		Int("price_drops", len(bundle.PriceDrops)).
		Int("restocks", len(bundle.Restocks)).
		Str("body", renderMessage(bundle)).
		Msg("alert bundle")
	return nil
}

func renderMessage(b Bundle) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[KringleList] %s\n", b.Subject()))
	if len(b.PriceDrops) > 0 {
		builder.WriteString(fmt.Sprintf("\nPrice drops (%d):\n", len(b.PriceDrops)))
		for _, ev := range b.PriceDrops {
			line := fmt.Sprintf("- %s for %s at %s: now %s", ev.ProductTitle, ev.SubjectLabel, ev.MerchantName, dollars(ev.NewPriceCents))
			if ev.OldPriceCents != nil {
				line += fmt.Sprintf(", was %s", dollars(*ev.OldPriceCents))
			}
			if ev.DropPercentage != nil {
				line += fmt.Sprintf(" (%d%% off)", *ev.DropPercentage)
			}
			builder.WriteString(line + "\n")
		}
	}
	if len(b.Restocks) > 0 {
		builder.WriteString(fmt.Sprintf("\nBack in stock (%d):\n", len(b.Restocks)))
		for _, ev := range b.Restocks {
			builder.WriteString(fmt.Sprintf("- %s for %s at %s: %s\n", ev.ProductTitle, ev.SubjectLabel, ev.MerchantName, dollars(ev.NewPriceCents)))
		}
	}
	return builder.String()
}

func dollars(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

var (
	_ Notifier = (*ResendNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
