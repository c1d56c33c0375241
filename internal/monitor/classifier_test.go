package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/marketalert/internal/models"
)

var testThresholds = models.Thresholds{ExtremeLow: 8, Low: 12, High: 20, ExtremeHigh: 30}

// dayCandles returns n five-minute candles on 2024-03-04 UTC starting at 14:30.
func dayCandles(n int, high, low float64) []models.Candle {
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Time:  start.Add(time.Duration(i) * 5 * time.Minute).UnixMilli(),
			Open:  15,
			High:  16,
			Low:   14,
			Close: 15,
		}
	}
	if n > 0 {
		out[n/2].High = high
		out[n/2].Low = low
	}
	return out
}

func newTestClassifier(t *testing.T, fullSession int) *Classifier {
	t.Helper()
	c, err := NewClassifier(testThresholds, fullSession, time.UTC)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestClassify_Tiers(t *testing.T) {
	tests := []struct {
		name      string
		high, low float64
		wantAlert bool
		wantLevel models.AlertLevel
		wantPct   float64
		wantDual  models.DualAlert
	}{
		{name: "normal band", high: 19.9, low: 12, wantLevel: models.NoAlert},
		{name: "high inclusive", high: 20, low: 13, wantAlert: true, wantLevel: models.High, wantPct: 20},
		{name: "extreme high", high: 35, low: 13, wantAlert: true, wantLevel: models.ExtremeHigh, wantPct: 35},
		{name: "low exclusive", high: 16, low: 11.99, wantAlert: true, wantLevel: models.Low, wantPct: 11.99},
		{name: "low boundary is normal", high: 16, low: 12, wantLevel: models.NoAlert},
		{name: "extreme low", high: 16, low: 7, wantAlert: true, wantLevel: models.ExtremeLow, wantPct: 7},
		{
			name: "extreme high with extreme low dual", high: 35, low: 5,
			wantAlert: true, wantLevel: models.ExtremeHigh, wantPct: 35,
			wantDual: models.DualAlert{Alert: true, Level: models.ExtremeLow, Percentage: 5},
		},
		{
			name: "high with low dual", high: 21, low: 10,
			wantAlert: true, wantLevel: models.High, wantPct: 21,
			wantDual: models.DualAlert{Alert: true, Level: models.Low, Percentage: 10},
		},
	}

	c := newTestClassifier(t, 78)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Classify(dayCandles(10, tt.high, tt.low))
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if res.Alert != tt.wantAlert || res.Level != tt.wantLevel {
				t.Errorf("got alert=%v level=%s, want alert=%v level=%s", res.Alert, res.Level, tt.wantAlert, tt.wantLevel)
			}
			if res.Percentage != tt.wantPct {
				t.Errorf("percentage = %v, want %v", res.Percentage, tt.wantPct)
			}
			if res.DualAlert != tt.wantDual {
				t.Errorf("dual = %+v, want %+v", res.DualAlert, tt.wantDual)
			}
		})
	}
}

func TestClassify_LatestFields(t *testing.T) {
	c := newTestClassifier(t, 78)
	candles := dayCandles(5, 16, 14)
	candles[4].Close = 17.25

	res, err := c.Classify(candles)
	if err != nil {
		t.Fatal(err)
	}
	if res.LatestClosePrice != 17.25 || res.LatestTime != candles[4].Time {
		t.Errorf("latest = %v@%d, want 17.25@%d", res.LatestClosePrice, res.LatestTime, candles[4].Time)
	}
}

func TestClassify_OnlyLastDay(t *testing.T) {
	c := newTestClassifier(t, 78)
	yesterday := models.Candle{
		Time: time.Date(2024, 3, 3, 20, 55, 0, 0, time.UTC).UnixMilli(),
		High: 50, Low: 2, Close: 40,
	}
	candles := append([]models.Candle{yesterday}, dayCandles(3, 16, 14)...)

	res, err := c.Classify(candles)
	if err != nil {
		t.Fatal(err)
	}
	if res.Alert {
		t.Errorf("previous day extremes leaked into result: %+v", res)
	}
	if got := len(c.SameDay(candles)); got != 3 {
		t.Errorf("SameDay returned %d candles, want 3", got)
	}
}

func TestClassify_DayBoundaryUsesLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c, err := NewClassifier(testThresholds, 78, ny)
	if err != nil {
		t.Fatal(err)
	}
	// 02:00 UTC on Mar 5 is still Mar 4 in New York.
	late := models.Candle{Time: time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC).UnixMilli(), High: 16, Low: 14}
	candles := append(dayCandles(3, 16, 14), late)
	if got := len(c.SameDay(candles)); got != 4 {
		t.Errorf("SameDay returned %d candles, want 4", got)
	}
}

func TestClassify_AllPoints(t *testing.T) {
	c := newTestClassifier(t, 78)

	res, _ := c.Classify(dayCandles(77, 16, 14))
	if res.AllPoints {
		t.Error("77 of 78 candles should be a partial session")
	}
	res, _ = c.Classify(dayCandles(78, 16, 14))
	if !res.AllPoints {
		t.Error("78 of 78 candles should be a full session")
	}
}

func TestClassify_EmptySeries(t *testing.T) {
	c := newTestClassifier(t, 78)
	if _, err := c.Classify(nil); !errors.Is(err, ErrEmptySeries) {
		t.Errorf("error = %v, want ErrEmptySeries", err)
	}
}

func TestNewClassifier_InvalidConfig(t *testing.T) {
	if _, err := NewClassifier(models.Thresholds{ExtremeLow: 12, Low: 8, High: 20, ExtremeHigh: 30}, 78, nil); err == nil {
		t.Error("expected error for misordered thresholds")
	}
	if _, err := NewClassifier(testThresholds, 0, nil); err == nil {
		t.Error("expected error for zero full session points")
	}
}
