// Package ingest consumes popularity signals from RabbitMQ into the signal store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"kringlewatch/internal/domain"
	"kringlewatch/internal/metrics"
	"kringlewatch/internal/storage"
)

// ErrInvalidMessage marks payloads that can never be stored and must not be requeued.
var ErrInvalidMessage = errors.New("ingest: invalid message")

// SignalMessage is the JSON payload published by the web application.
type SignalMessage struct {
	ProductID  string     `json:"product_id" validate:"required,max=64"`
	SignalType string     `json:"signal_type" validate:"required,oneof=VIEW ADD_TO_BAG CLAIM SHARE CLICK"`
	Value      *float64   `json:"value" validate:"omitempty,gte=0"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// Handler validates and stores signal messages.
type Handler struct {
	store    storage.SignalStore
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger
}

// NewHandler constructs a Handler writing to store.
func NewHandler(store storage.SignalStore, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// Decode parses and validates a message body. Value defaults to 1 and
// RecordedAt to the receive time.
func (h *Handler) Decode(body []byte) (domain.Signal, error) {
	var msg SignalMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := h.validate.Struct(&msg); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	typ, err := domain.ParseSignalType(msg.SignalType)
	if err != nil {
		return domain.Signal{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	signal := domain.Signal{
		ProductID:  msg.ProductID,
		Type:       typ,
		Value:      1,
		RecordedAt: h.now().UTC(),
	}
	if msg.Value != nil {
		signal.Value = *msg.Value
	}
	if msg.RecordedAt != nil && !msg.RecordedAt.IsZero() {
		signal.RecordedAt = msg.RecordedAt.UTC()
	}
	return signal, nil
}

// Handle decodes body and appends it to the signal store.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	signal, err := h.Decode(body)
	if err != nil {
		metrics.RecordIngest("invalid")
		return err
	}
	if err := h.store.AppendSignal(ctx, signal); err != nil {
		metrics.RecordIngest("failed")
		return fmt.Errorf("append signal: %w", err)
	}
	metrics.RecordIngest("stored")
	h.logger.Debug().
		Str("product_id", signal.ProductID).
		Str("signal_type", string(signal.Type)).
		Msg("signal stored")
	return nil
}
