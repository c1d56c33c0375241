package indicator

import "fmt"

// EMA calculates an Exponential Moving Average.
// The first price seeds the average directly; no SMA warm-up window is used.
type EMA struct {
	multiplier float64
	current    float64
	seeded     bool
}

// NewEMA creates a new EMA with the given length.
func NewEMA(length int) (*EMA, error) {
	if length <= 0 {
		return nil, fmt.Errorf("ema length %d: %w", length, ErrInvalidLength)
	}
	return &EMA{
		multiplier: 2.0 / float64(length+1),
	}, nil
}

// Update applies EMA = price*k + prev*(1-k).
func (e *EMA) Update(price float64) {
	if !e.seeded {
		e.current = price
		e.seeded = true
		return
	}
	e.current = price*e.multiplier + e.current*(1-e.multiplier)
}

func (e *EMA) Result() Average {
	return Average{Value: e.current, Seeded: e.seeded}
}

var _ Indicator[Average] = (*EMA)(nil)
