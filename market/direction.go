package market

import (
	"fmt"
	"strings"
)

// Direction is the side of a signal or position: +1 buy, -1 sell, 0 hold.
type Direction int8

const (
	Hold Direction = 0
	Buy  Direction = +1
	Sell Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Sign returns +1 for Buy, -1 for Sell and 0 for Hold.
func (d Direction) Sign() float64 { return float64(d) }

// Opposite returns the other side. Hold has no opposite.
func (d Direction) Opposite() Direction { return -d }

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return Buy, nil
	case "SELL", "SHORT":
		return Sell, nil
	case "HOLD", "":
		return Hold, nil
	}
	return Hold, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
