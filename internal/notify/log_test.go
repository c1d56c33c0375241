package notify

import (
	"context"
	"testing"

	"github.com/rewired-gh/marketalert/internal/models"
)

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier()
	if h := n.Health(); !h.Healthy || !h.LastSuccess.IsZero() {
		t.Fatalf("fresh notifier health = %+v", h)
	}

	ctx := context.Background()
	err := n.SendLevelChange(ctx, models.LevelChange{
		Symbol: "^VIX",
		Result: models.AlertResult{Level: models.High, DualAlert: models.DualAlert{Alert: true, Level: models.Low}},
	})
	if err != nil {
		t.Fatalf("SendLevelChange: %v", err)
	}
	first := n.Health().LastSuccess
	if first.IsZero() {
		t.Fatal("expected LastSuccess after a notification")
	}

	if err := n.SendCross(ctx, models.CrossNotice{Symbol: "SPY", Event: models.CrossEvent{Type: models.Bullish}}); err != nil {
		t.Fatalf("SendCross: %v", err)
	}
	if n.Health().LastSuccess.Before(first) {
		t.Error("LastSuccess moved backwards")
	}
}
