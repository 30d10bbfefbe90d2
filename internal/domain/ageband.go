package domain

import (
	"errors"
	"fmt"
)

// AgeBand is one of the fixed child age ranges used to partition trends.
type AgeBand string

const (
	AgeBandInfant  AgeBand = "0-2"
	AgeBandToddler AgeBand = "3-4"
	AgeBandEarly   AgeBand = "5-7"
	AgeBandMiddle  AgeBand = "8-10"
	AgeBandTween   AgeBand = "11-13"
	AgeBandTeen    AgeBand = "14+"
)

// ErrUnknownAgeBand is returned for age bands outside the fixed set.
var ErrUnknownAgeBand = errors.New("unknown age band")

var ageBands = []AgeBand{
	AgeBandInfant,
	AgeBandToddler,
	AgeBandEarly,
	AgeBandMiddle,
	AgeBandTween,
	AgeBandTeen,
}

// AgeBands returns the known age bands in display order.
func AgeBands() []AgeBand {
	out := make([]AgeBand, len(ageBands))
	copy(out, ageBands)
	return out
}

// ParseAgeBand validates a raw age band label.
func ParseAgeBand(raw string) (AgeBand, error) {
	for _, band := range ageBands {
		if string(band) == raw {
			return band, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgeBand, raw)
}
