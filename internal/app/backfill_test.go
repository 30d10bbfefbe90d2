package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAlignForward(t *testing.T) {
	day := 24 * time.Hour
	offset := 2 * time.Hour

	at := time.Date(2024, 12, 1, 1, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 12, 1, 2, 0, 0, 0, time.UTC), alignForward(at, day, offset))

	at = time.Date(2024, 12, 1, 2, 0, 0, 0, time.UTC)
	require.Equal(t, at, alignForward(at, day, offset))

	at = time.Date(2024, 12, 1, 3, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 12, 2, 2, 0, 0, 0, time.UTC), alignForward(at, day, offset))

	at = time.Date(2024, 12, 1, 3, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 12, 1, 4, 0, 0, 0, time.UTC), alignForward(at, time.Hour, 0))
}

func TestSimulatedEvent(t *testing.T) {
	event, err := simulatedEvent(SimulateOptions{Email: "p@example.com", OldCents: 1000, NewCents: 900})
	require.NoError(t, err)
	require.Equal(t, int64(10), *event.DropPercentage)
	require.Equal(t, int64(100), *event.PriceDropCents())

	event, err = simulatedEvent(SimulateOptions{Email: "p@example.com", NewCents: 900, Restock: true})
	require.NoError(t, err)
	require.Nil(t, event.OldPriceCents)

	_, err = simulatedEvent(SimulateOptions{Email: "p@example.com", OldCents: 900, NewCents: 900})
	require.Error(t, err)
	_, err = simulatedEvent(SimulateOptions{NewCents: 900})
	require.Error(t, err)
}
