// Package notify holds notifiers that do not need an external transport.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/models"
)

// LogNotifier writes notifications to the log. It is used when Telegram is disabled.
type LogNotifier struct {
	mu       sync.Mutex
	lastSent time.Time
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendLevelChange(ctx context.Context, change models.LevelChange) error {
	res := change.Result
	logger.Info("[notify] %s level %s -> %s (%.2f%%, close %.2f, all points %t)",
		change.Symbol, change.Previous, res.Level, res.Percentage, res.LatestClosePrice, res.AllPoints)
	if res.DualAlert.Alert {
		logger.Info("[notify] %s dual alert %s (%.2f%%)", change.Symbol, res.DualAlert.Level, res.DualAlert.Percentage)
	}
	n.touch()
	return nil
}

func (n *LogNotifier) SendCross(ctx context.Context, notice models.CrossNotice) error {
	ev := notice.Event
	logger.Info("[notify] %s %s cross at %s (close %.2f, histogram %.4f -> %.4f)",
		notice.Symbol, ev.Type, time.UnixMilli(ev.Time).UTC().Format(time.RFC3339), ev.Close, ev.PrevHistogram, ev.Histogram)
	n.touch()
	return nil
}

func (n *LogNotifier) SendError(ctx context.Context, symbol string, err error) error {
	logger.Warn("[notify] monitoring error for %s: %v", symbol, err)
	return nil
}

func (n *LogNotifier) SendRecovery(ctx context.Context, symbol string, failureCount int) error {
	logger.Info("[notify] monitoring for %s recovered after %d failure(s)", symbol, failureCount)
	return nil
}

// Health is always healthy; LastSuccess is the time of the last logged notification.
func (n *LogNotifier) Health() models.HealthStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return models.HealthStatus{Healthy: true, LastSuccess: n.lastSent}
}

func (n *LogNotifier) touch() {
	n.mu.Lock()
	n.lastSent = time.Now()
	n.mu.Unlock()
}
