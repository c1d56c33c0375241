// Package monitor turns candle series into alert levels and trend crosses and decides
// which of them are worth announcing.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/metrics"
	"github.com/rewired-gh/marketalert/internal/models"
)

// Kind selects which evaluation a ticker runs.
type Kind string

const (
	KindVolatility Kind = "volatility"
	KindTrend      Kind = "trend"
)

// ErrUnknownSymbol is returned for symbols the monitor was not configured with.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Notifier delivers rendered notifications. Formatting is entirely its concern.
type Notifier interface {
	SendLevelChange(ctx context.Context, change models.LevelChange) error
	SendCross(ctx context.Context, notice models.CrossNotice) error
}

// NotificationLog receives an audit record for every delivered notification.
type NotificationLog interface {
	AddNotification(ctx context.Context, rec *models.NotificationRecord) error
}

// Ticker is the per-symbol configuration.
type Ticker struct {
	Symbol            string
	Name              string
	Kind              Kind
	Thresholds        models.Thresholds
	FullSessionPoints int
	Location          *time.Location
	Trend             TrendConfig
}

type tickerState struct {
	Ticker
	classifier *Classifier
	mu         sync.Mutex
}

// Report summarises one evaluation.
type Report struct {
	Symbol     string
	Kind       Kind
	Result     *models.AlertResult
	Crosses    []models.CrossEvent
	Notified   int
	Suppressed int
}

// Monitor runs evaluations. Ticks for one symbol are serialised; different symbols may
// be evaluated concurrently.
type Monitor struct {
	tracker  *Tracker
	notifier Notifier
	log      NotificationLog
	metrics  *metrics.Metrics
	tickers  map[string]*tickerState
}

type Option func(*Monitor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

func WithNotificationLog(l NotificationLog) Option {
	return func(mon *Monitor) { mon.log = l }
}

// New validates every ticker; any configuration error is returned before the monitor
// is usable.
func New(store StateStore, notifier Notifier, tickers []Ticker, opts ...Option) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	m := &Monitor{
		tracker:  NewTracker(store),
		notifier: notifier,
		tickers:  make(map[string]*tickerState, len(tickers)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewMetrics()
	}

	for _, t := range tickers {
		if t.Symbol == "" {
			return nil, errors.New("ticker symbol must not be empty")
		}
		if _, dup := m.tickers[t.Symbol]; dup {
			return nil, fmt.Errorf("duplicate ticker symbol %s", t.Symbol)
		}
		ts := &tickerState{Ticker: t}
		switch t.Kind {
		case KindVolatility:
			c, err := NewClassifier(t.Thresholds, t.FullSessionPoints, t.Location)
			if err != nil {
				return nil, fmt.Errorf("ticker %s: %w", t.Symbol, err)
			}
			ts.classifier = c
		case KindTrend:
			if err := t.Trend.Validate(); err != nil {
				return nil, fmt.Errorf("ticker %s: %w", t.Symbol, err)
			}
		default:
			return nil, fmt.Errorf("ticker %s: unknown kind %q", t.Symbol, t.Kind)
		}
		m.tickers[t.Symbol] = ts
	}
	return m, nil
}

// Tracker exposes the dedupe state cache.
func (m *Monitor) Tracker() *Tracker { return m.tracker }

// Ticker returns the configuration registered for symbol.
func (m *Monitor) Ticker(symbol string) (Ticker, bool) {
	ts, ok := m.tickers[symbol]
	if !ok {
		return Ticker{}, false
	}
	return ts.Ticker, true
}

// Evaluate runs the ticker's evaluation over candles and notifies as needed.
func (m *Monitor) Evaluate(ctx context.Context, symbol string, candles []models.Candle) (*Report, error) {
	ts, ok := m.tickers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	var (
		report *Report
		err    error
	)
	switch ts.Kind {
	case KindVolatility:
		report, err = m.evaluateVolatility(ctx, ts, candles)
	case KindTrend:
		report, err = m.evaluateTrend(ctx, ts, candles)
	}

	m.metrics.EvaluationsTotal.WithLabelValues(symbol, string(ts.Kind)).Inc()
	if err != nil {
		m.metrics.EvaluationErrors.WithLabelValues(symbol, string(ts.Kind)).Inc()
	}
	return report, err
}

func (m *Monitor) evaluateVolatility(ctx context.Context, ts *tickerState, candles []models.Candle) (*Report, error) {
	start := time.Now()
	res, err := ts.classifier.Classify(candles)
	m.metrics.EvaluationDur.WithLabelValues(string(KindVolatility)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to classify %s: %w", ts.Symbol, err)
	}

	report := &Report{Symbol: ts.Symbol, Kind: KindVolatility, Result: &res}
	m.metrics.AlertLevel.WithLabelValues(ts.Symbol).Set(float64(res.Level))

	previous, err := m.tracker.PreviousLevel(ctx, ts.Symbol)
	if err != nil {
		return report, err
	}
	notify, err := m.tracker.ShouldNotifyLevelChange(ctx, ts.Symbol, res.Level)
	if err != nil {
		return report, err
	}

	var sendErr error
	if notify {
		logger.Info("%s alert level changed: %s -> %s (%.2f)", ts.Symbol, previous, res.Level, res.Percentage)
		sendErr = m.notifier.SendLevelChange(ctx, models.LevelChange{
			Symbol:     ts.Symbol,
			Name:       ts.Name,
			Previous:   previous,
			Result:     res,
			Thresholds: ts.classifier.Thresholds(),
		})
		if sendErr != nil {
			m.metrics.DeliveryFailures.WithLabelValues(ts.Symbol, string(models.KindLevelChange)).Inc()
			sendErr = fmt.Errorf("failed to deliver level change for %s: %w", ts.Symbol, sendErr)
		} else {
			report.Notified++
			m.metrics.NotificationsTotal.WithLabelValues(ts.Symbol, string(models.KindLevelChange)).Inc()
			m.audit(ctx, &models.NotificationRecord{Symbol: ts.Symbol, Kind: models.KindLevelChange, Level: res.Level})
		}
	} else {
		report.Suppressed++
		m.metrics.SuppressedTotal.WithLabelValues(ts.Symbol, string(models.KindLevelChange)).Inc()
		logger.Debug("%s alert level unchanged (%s)", ts.Symbol, res.Level)
	}

	// Recorded after every attempt, so a failed delivery is not retried.
	recordErr := m.tracker.RecordLevel(ctx, ts.Symbol, res.Level)
	return report, errors.Join(sendErr, recordErr)
}

func (m *Monitor) evaluateTrend(ctx context.Context, ts *tickerState, candles []models.Candle) (*Report, error) {
	start := time.Now()
	events, err := DetectCrosses(candles, ts.Trend)
	m.metrics.EvaluationDur.WithLabelValues(string(KindTrend)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to detect crosses for %s: %w", ts.Symbol, err)
	}

	report := &Report{Symbol: ts.Symbol, Kind: KindTrend, Crosses: events}
	logger.Debug("%s: %d crosses in window", ts.Symbol, len(events))

	for _, ev := range events {
		notify, err := m.tracker.ShouldNotifyCross(ctx, ts.Symbol, ev.Time)
		if err != nil {
			return report, err
		}
		if !notify {
			report.Suppressed++
			m.metrics.SuppressedTotal.WithLabelValues(ts.Symbol, string(models.KindCross)).Inc()
			continue
		}

		logger.Info("%s %s cross at %d (hist %.4f -> %.4f)", ts.Symbol, ev.Type, ev.Time, ev.PrevHistogram, ev.Histogram)
		if err := m.notifier.SendCross(ctx, models.CrossNotice{Symbol: ts.Symbol, Name: ts.Name, Event: ev}); err != nil {
			// Not recorded: the same cross is offered again next tick.
			m.metrics.DeliveryFailures.WithLabelValues(ts.Symbol, string(models.KindCross)).Inc()
			return report, fmt.Errorf("failed to deliver cross for %s: %w", ts.Symbol, err)
		}
		report.Notified++
		m.metrics.NotificationsTotal.WithLabelValues(ts.Symbol, string(models.KindCross)).Inc()
		m.metrics.LastCrossTimeMillis.WithLabelValues(ts.Symbol).Set(float64(ev.Time))
		m.audit(ctx, &models.NotificationRecord{Symbol: ts.Symbol, Kind: models.KindCross, CrossTime: ev.Time})

		if err := m.tracker.RecordCross(ctx, ts.Symbol, ev.Time); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (m *Monitor) audit(ctx context.Context, rec *models.NotificationRecord) {
	if m.log == nil {
		return
	}
	rec.SentAt = time.Now()
	if err := m.log.AddNotification(ctx, rec); err != nil {
		logger.Warn("Failed to record notification for %s: %v", rec.Symbol, err)
	}
}
