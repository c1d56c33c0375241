package monitor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/marketalert/internal/models"
)

// ErrEmptySeries is returned when there is nothing to classify.
var ErrEmptySeries = errors.New("empty candle series")

// Classifier maps a day's high/low excursion onto an alert tier.
type Classifier struct {
	thresholds        models.Thresholds
	fullSessionPoints int
	loc               *time.Location
}

// NewClassifier validates the thresholds up front. fullSessionPoints is the number of bars
// in a complete session (78 for 5-minute bars over 6.5 hours). A nil loc means time.Local.
func NewClassifier(thresholds models.Thresholds, fullSessionPoints int, loc *time.Location) (*Classifier, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if fullSessionPoints < 1 {
		return nil, fmt.Errorf("full session points must be at least 1, got %d", fullSessionPoints)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Classifier{
		thresholds:        thresholds,
		fullSessionPoints: fullSessionPoints,
		loc:               loc,
	}, nil
}

func (c *Classifier) Thresholds() models.Thresholds { return c.thresholds }

// startOfDay truncates ms to local midnight of its calendar date.
func (c *Classifier) startOfDay(ms int64) int64 {
	t := time.UnixMilli(ms).In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc).UnixMilli()
}

// SameDay returns the trailing candles that share the last candle's calendar date.
func (c *Classifier) SameDay(candles []models.Candle) []models.Candle {
	if len(candles) == 0 {
		return nil
	}
	start := c.startOfDay(candles[len(candles)-1].Time)
	i := len(candles)
	for i > 0 && candles[i-1].Time >= start {
		i--
	}
	return candles[i:]
}

// Classify evaluates the high side first and the low side second. A low-side breach in a
// window where the high side already fired is reported as the dual alert; the reverse
// cannot happen.
func (c *Classifier) Classify(candles []models.Candle) (models.AlertResult, error) {
	if len(candles) == 0 {
		return models.AlertResult{}, ErrEmptySeries
	}

	day := c.SameDay(candles)
	highest, lowest := math.Inf(-1), math.Inf(1)
	for _, cd := range day {
		highest = math.Max(highest, cd.High)
		lowest = math.Min(lowest, cd.Low)
	}

	latest := candles[len(candles)-1]
	res := models.AlertResult{
		Level:            models.NoAlert,
		LatestClosePrice: latest.Close,
		LatestTime:       latest.Time,
		AllPoints:        len(day) == c.fullSessionPoints,
	}

	t := c.thresholds
	if highest >= t.ExtremeHigh {
		res.Alert, res.Level, res.Percentage = true, models.ExtremeHigh, highest
	} else if highest >= t.High {
		res.Alert, res.Level, res.Percentage = true, models.High, highest
	}

	if lowest < t.ExtremeLow {
		c.setLow(&res, models.ExtremeLow, lowest)
	} else if lowest < t.Low {
		c.setLow(&res, models.Low, lowest)
	}

	return res, nil
}

func (c *Classifier) setLow(res *models.AlertResult, level models.AlertLevel, lowest float64) {
	if !res.Alert {
		res.Alert, res.Level, res.Percentage = true, level, lowest
		return
	}
	res.DualAlert = models.DualAlert{Alert: true, Level: level, Percentage: lowest}
}
