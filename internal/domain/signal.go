package domain

import (
	"errors"
	"fmt"
	"time"
)

// SignalType enumerates the interaction kinds feeding trend scores.
type SignalType string

const (
	SignalView     SignalType = "VIEW"
	SignalAddToBag SignalType = "ADD_TO_BAG"
	SignalClaim    SignalType = "CLAIM"
	SignalShare    SignalType = "SHARE"
	SignalClick    SignalType = "CLICK"
)

// ErrUnknownSignalType is returned when parsing an unsupported signal kind.
var ErrUnknownSignalType = errors.New("unknown signal type")

var signalWeights = map[SignalType]float64{
	SignalView:     1,
	SignalAddToBag: 3,
	SignalClaim:    5,
	SignalShare:    2,
	SignalClick:    1,
}

// Weight returns the scoring multiplier of the signal type; unknown types weigh zero.
func (t SignalType) Weight() float64 {
	return signalWeights[t]
}

// Valid reports whether t is a supported signal type.
func (t SignalType) Valid() bool {
	_, ok := signalWeights[t]
	return ok
}

// ParseSignalType converts a raw string into a SignalType.
func ParseSignalType(raw string) (SignalType, error) {
	t := SignalType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSignalType, raw)
	}
	return t, nil
}

// Signal is one weighted interaction recorded against a product.
type Signal struct {
	ProductID  string
	Type       SignalType
	Value      float64
	RecordedAt time.Time
}

// SignalTotals holds the summed signal values per type for one product.
type SignalTotals map[SignalType]float64

// Score applies the signal weights to the totals.
func (t SignalTotals) Score() float64 {
	var score float64
	for typ, value := range t {
		score += value * typ.Weight()
	}
	return score
}
