package indicator

import "fmt"

// PPOResult is the latest oscillator reading. Histogram = Oscillator - Signal.
type PPOResult struct {
	Oscillator float64
	Signal     float64
	Histogram  float64
}

// PPO is the Percentage Price Oscillator, a percentage-normalised MACD:
//
//	oscillator = (short - long) / long * 100
//	signal     = EMA(oscillator)
//	histogram  = oscillator - signal
type PPO struct {
	short  Indicator[Average]
	long   Indicator[Average]
	signal Indicator[Average]
	result PPOResult
}

// NewPPO builds a PPO from three EMAs, conventionally 12/26/9.
func NewPPO(shortLength, longLength, signalLength int) (*PPO, error) {
	short, err := NewEMA(shortLength)
	if err != nil {
		return nil, fmt.Errorf("ppo short: %w", err)
	}
	long, err := NewEMA(longLength)
	if err != nil {
		return nil, fmt.Errorf("ppo long: %w", err)
	}
	signal, err := NewEMA(signalLength)
	if err != nil {
		return nil, fmt.Errorf("ppo signal: %w", err)
	}
	return NewPPOFrom(short, long, signal), nil
}

// NewPPOFrom composes a PPO out of arbitrary averages.
func NewPPOFrom(short, long, signal Indicator[Average]) *PPO {
	return &PPO{short: short, long: long, signal: signal}
}

// Update feeds price to both averages, then feeds the new oscillator to the signal line
// before taking the histogram.
func (p *PPO) Update(price float64) {
	p.short.Update(price)
	p.long.Update(price)
	short, long := p.short.Result(), p.long.Result()

	osc := 0.0
	if long.Seeded && long.Value != 0 {
		osc = (short.Value - long.Value) / long.Value * 100
	}

	p.signal.Update(osc)
	signal := p.signal.Result().Value

	p.result = PPOResult{
		Oscillator: osc,
		Signal:     signal,
		Histogram:  osc - signal,
	}
}

func (p *PPO) Result() PPOResult {
	return p.result
}

var _ Indicator[PPOResult] = (*PPO)(nil)
