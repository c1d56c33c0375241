// Package models defines the core domain entities: candles, alert results, cross events and
// the persisted notification state.
package models

import (
	"errors"
	"math"
)

// Candle is one OHLC bar. Time is the bar start in epoch milliseconds.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
	Trades int64   `json:"trades,omitempty"`
}

// Validate checks candle field constraints.
func (c *Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("candle prices must be finite")
		}
	}
	if c.High < c.Low {
		return errors.New("candle high must be >= low")
	}
	if c.Volume < 0 {
		return errors.New("candle volume must not be negative")
	}
	return nil
}
