package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rewired-gh/marketalert/internal/models"
	"github.com/rewired-gh/marketalert/internal/storage"
)

// mustBool unwraps a (bool, error) result, failing the test on error.
func mustBool(t *testing.T) func(bool, error) bool {
	t.Helper()
	return func(got bool, err error) bool {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return got
	}
}

func TestTracker_LevelDedupe(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(storage.NewMemoryStore())

	if mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "^VIX", models.NoAlert)) {
		t.Error("NO_ALERT on a cold symbol matches the default and must not notify")
	}
	if !mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "^VIX", models.High)) {
		t.Fatal("first HIGH should notify")
	}
	if err := tr.RecordLevel(ctx, "^VIX", models.High); err != nil {
		t.Fatal(err)
	}
	if mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "^VIX", models.High)) {
		t.Error("repeated HIGH should not notify")
	}
	if !mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "^VIX", models.NoAlert)) {
		t.Error("return to NO_ALERT should notify")
	}
	if err := tr.RecordLevel(ctx, "^VIX", models.NoAlert); err != nil {
		t.Fatal(err)
	}
	if mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "^VIX", models.NoAlert)) {
		t.Error("repeated NO_ALERT should not notify")
	}
}

func TestTracker_CrossColdStart(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(storage.NewMemoryStore())

	for _, ts := range []int64{-5, 0, 1700000000000} {
		if !mustBool(t)(tr.ShouldNotifyCross(ctx, "SPY", ts)) {
			t.Errorf("cold start: cross at %d should notify", ts)
		}
	}
	if err := tr.RecordCross(ctx, "SPY", 1000); err != nil {
		t.Fatal(err)
	}
	for ts, want := range map[int64]bool{999: false, 1000: false, 1001: true} {
		if got := mustBool(t)(tr.ShouldNotifyCross(ctx, "SPY", ts)); got != want {
			t.Errorf("ShouldNotifyCross(%d) = %v, want %v", ts, got, want)
		}
	}
}

func TestTracker_SymbolsAreIndependent(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(storage.NewMemoryStore())
	_ = tr.RecordLevel(ctx, "A", models.ExtremeHigh)
	_ = tr.RecordCross(ctx, "A", 50)

	if mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "B", models.NoAlert)) {
		t.Error("B should start at NO_ALERT")
	}
	if !mustBool(t)(tr.ShouldNotifyCross(ctx, "B", 10)) {
		t.Error("B has no cross history")
	}
}

func TestTracker_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s1, err := storage.New(10, path)
	if err != nil {
		t.Fatal(err)
	}
	tr := NewTracker(s1)
	if err := tr.RecordLevel(ctx, "^VIX", models.ExtremeHigh); err != nil {
		t.Fatal(err)
	}
	if err := tr.RecordCross(ctx, "^VIX", 5000); err != nil {
		t.Fatal(err)
	}
	_ = s1.Close()

	s2, err := storage.New(10, path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s2.Close() }()
	restarted := NewTracker(s2)

	if mustBool(t)(restarted.ShouldNotifyLevelChange(ctx, "^VIX", models.ExtremeHigh)) {
		t.Error("level announced before restart must not be announced again")
	}
	if mustBool(t)(restarted.ShouldNotifyCross(ctx, "^VIX", 5000)) {
		t.Error("cross announced before restart must not be announced again")
	}
	if !mustBool(t)(restarted.ShouldNotifyCross(ctx, "^VIX", 5001)) {
		t.Error("newer cross should notify after restart")
	}
}

type failingStore struct {
	loadErr, updateErr error
}

func (f failingStore) LoadState(context.Context, string) (*models.DedupeState, error) {
	return nil, f.loadErr
}

func (f failingStore) UpdateState(context.Context, string, func(*models.DedupeState) error) error {
	return f.updateErr
}

func TestTracker_StoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk gone")

	tr := NewTracker(failingStore{loadErr: boom})
	if _, err := tr.ShouldNotifyCross(ctx, "X", 1); !errors.Is(err, boom) {
		t.Errorf("error = %v, want load error", err)
	}

	tr = NewTracker(failingStore{updateErr: boom})
	if err := tr.RecordLevel(ctx, "X", models.Low); !errors.Is(err, boom) {
		t.Errorf("error = %v, want update error", err)
	}
	// The process keeps deduplicating in memory even though the write failed.
	if mustBool(t)(tr.ShouldNotifyLevelChange(ctx, "X", models.Low)) {
		t.Error("in-memory level should have moved to LOW")
	}
}
