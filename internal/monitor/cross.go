package monitor

import (
	"fmt"
	"math"

	"github.com/rewired-gh/marketalert/internal/indicator"
	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/models"
)

// TrendConfig drives PPO cross detection over a fetched window.
type TrendConfig struct {
	Short        int
	Long         int
	Signal       int
	WarmupPeriod int
	DataPeriod   int
}

// Validate fails on lengths the PPO would reject and on negative periods.
func (c TrendConfig) Validate() error {
	if _, err := indicator.NewPPO(c.Short, c.Long, c.Signal); err != nil {
		return err
	}
	if c.WarmupPeriod < 0 {
		return fmt.Errorf("warmup period must not be negative, got %d", c.WarmupPeriod)
	}
	if c.DataPeriod < 1 {
		return fmt.Errorf("data period must be at least 1, got %d", c.DataPeriod)
	}
	return nil
}

// NoCutoff lets every sample after the first emit crosses.
const NoCutoff int64 = math.MinInt64

// CrossDetector turns a candle stream into histogram sign-change events.
type CrossDetector struct {
	ppo      *indicator.PPO
	cutoff   int64
	hasPrev  bool
	prevHist float64
}

// NewCrossDetector only reports crosses on candles strictly after cutoff.
func NewCrossDetector(ppo *indicator.PPO, cutoff int64) *CrossDetector {
	return &CrossDetector{ppo: ppo, cutoff: cutoff}
}

// Update feeds the close into the PPO and checks the new histogram.
func (d *CrossDetector) Update(c models.Candle) (models.CrossEvent, bool) {
	d.ppo.Update(c.Close)
	return d.Observe(c, d.ppo.Result())
}

// Observe checks a precomputed reading against the previous histogram. The histogram is
// always tracked; the cutoff only gates whether an event is returned.
func (d *CrossDetector) Observe(c models.Candle, r indicator.PPOResult) (models.CrossEvent, bool) {
	prev, hadPrev := d.prevHist, d.hasPrev
	d.prevHist, d.hasPrev = r.Histogram, true

	if !hadPrev || c.Time <= d.cutoff {
		return models.CrossEvent{}, false
	}
	typ, ok := crossType(prev, r.Histogram)
	if !ok {
		return models.CrossEvent{}, false
	}
	return models.CrossEvent{
		Type:          typ,
		Time:          c.Time,
		Close:         c.Close,
		High:          c.High,
		Low:           c.Low,
		Oscillator:    r.Oscillator,
		Signal:        r.Signal,
		Histogram:     r.Histogram,
		PrevHistogram: prev,
	}, true
}

// crossType treats zero as non-negative on both sides: negative to zero-or-positive is
// bullish, zero-or-positive to negative is bearish.
func crossType(prev, curr float64) (models.CrossType, bool) {
	p, c := sign(prev), sign(curr)
	switch {
	case p == -1 && c >= 0:
		return models.Bullish, true
	case p >= 0 && c == -1:
		return models.Bearish, true
	default:
		return "", false
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// DetectCrosses runs a fresh PPO over the last WarmupPeriod+DataPeriod candles. Crosses on
// the warm-up candles are discarded. A shorter series is processed as is.
func DetectCrosses(candles []models.Candle, cfg TrendConfig) ([]models.CrossEvent, error) {
	if len(candles) == 0 {
		return nil, ErrEmptySeries
	}
	ppo, err := indicator.NewPPO(cfg.Short, cfg.Long, cfg.Signal)
	if err != nil {
		return nil, err
	}

	want := cfg.WarmupPeriod + cfg.DataPeriod
	if len(candles) < want {
		logger.Warn("Only %d candles available, %d requested (warmup %d + data %d); results are less accurate",
			len(candles), want, cfg.WarmupPeriod, cfg.DataPeriod)
	}
	start := len(candles) - want
	if start < 0 {
		start = 0
	}
	window := candles[start:]

	cutoff := NoCutoff
	if cfg.WarmupPeriod > 0 {
		idx := cfg.WarmupPeriod - 1
		if idx >= len(window) {
			idx = len(window) - 1
		}
		cutoff = window[idx].Time
	}

	det := NewCrossDetector(ppo, cutoff)
	var events []models.CrossEvent
	for _, c := range window {
		if ev, ok := det.Update(c); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}
