package models

import (
	"fmt"
	"strings"
)

// AlertLevel is the tier a volatility window falls into. LOW and HIGH are independent
// excursions from the normal band; the EXTREME variants are stronger versions of each.
type AlertLevel int

const (
	NoAlert AlertLevel = iota
	ExtremeLow
	Low
	High
	ExtremeHigh
)

var alertLevelNames = map[AlertLevel]string{
	NoAlert:     "NO_ALERT",
	ExtremeLow:  "EXTREME_LOW",
	Low:         "LOW",
	High:        "HIGH",
	ExtremeHigh: "EXTREME_HIGH",
}

func (l AlertLevel) String() string {
	if name, ok := alertLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("AlertLevel(%d)", int(l))
}

// ParseAlertLevel is the inverse of String.
func ParseAlertLevel(s string) (AlertLevel, error) {
	for level, name := range alertLevelNames {
		if strings.EqualFold(name, s) {
			return level, nil
		}
	}
	return NoAlert, fmt.Errorf("unknown alert level %q", s)
}

func (l AlertLevel) MarshalText() ([]byte, error) {
	if _, ok := alertLevelNames[l]; !ok {
		return nil, fmt.Errorf("unknown alert level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *AlertLevel) UnmarshalText(text []byte) error {
	level, err := ParseAlertLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// Thresholds are the volatility tier boundaries. High-side checks are inclusive (>=),
// low-side checks are exclusive (<).
type Thresholds struct {
	ExtremeLow  float64 `mapstructure:"extreme_low" json:"extreme_low"`
	Low         float64 `mapstructure:"low" json:"low"`
	High        float64 `mapstructure:"high" json:"high"`
	ExtremeHigh float64 `mapstructure:"extreme_high" json:"extreme_high"`
}

// Validate requires extreme_low <= low < high <= extreme_high.
func (t Thresholds) Validate() error {
	if t.ExtremeLow > t.Low {
		return fmt.Errorf("extreme_low (%g) must be <= low (%g)", t.ExtremeLow, t.Low)
	}
	if t.Low >= t.High {
		return fmt.Errorf("low (%g) must be < high (%g)", t.Low, t.High)
	}
	if t.High > t.ExtremeHigh {
		return fmt.Errorf("high (%g) must be <= extreme_high (%g)", t.High, t.ExtremeHigh)
	}
	return nil
}

// For returns the boundary that triggers level.
func (t Thresholds) For(level AlertLevel) float64 {
	switch level {
	case ExtremeLow:
		return t.ExtremeLow
	case Low:
		return t.Low
	case High:
		return t.High
	case ExtremeHigh:
		return t.ExtremeHigh
	default:
		return 0
	}
}

// DualAlert is a low-side breach seen in the same window as a high-side primary alert.
type DualAlert struct {
	Alert      bool       `json:"alert"`
	Level      AlertLevel `json:"level"`
	Percentage float64    `json:"percentage"`
}

// AlertResult is the outcome of one volatility classification.
type AlertResult struct {
	Alert            bool       `json:"alert"`
	Level            AlertLevel `json:"level"`
	Percentage       float64    `json:"percentage"`
	LatestClosePrice float64    `json:"latest_close_price"`
	LatestTime       int64      `json:"latest_time"`
	AllPoints        bool       `json:"all_points"`
	DualAlert        DualAlert  `json:"dual_alert"`
}

// CrossType is the direction of a histogram sign change.
type CrossType string

const (
	Bullish CrossType = "bullish"
	Bearish CrossType = "bearish"
)

// CrossEvent is a PPO histogram sign change between two consecutive candles.
type CrossEvent struct {
	Type          CrossType `json:"type"`
	Time          int64     `json:"time"`
	Close         float64   `json:"close"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Oscillator    float64   `json:"oscillator"`
	Signal        float64   `json:"signal"`
	Histogram     float64   `json:"histogram"`
	PrevHistogram float64   `json:"prev_histogram"`
}

// LevelChange is handed to a notifier when a symbol's alert level changed.
type LevelChange struct {
	Symbol     string
	Name       string
	Previous   AlertLevel
	Result     AlertResult
	Thresholds Thresholds
}

// CrossNotice is handed to a notifier for a newly detected cross.
type CrossNotice struct {
	Symbol string
	Name   string
	Event  CrossEvent
}
