package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/rewired-gh/marketalert/internal/models"
)

// StateStore is a keyed store of per-symbol dedupe state.
//
// LoadState returns (nil, nil) when nothing was ever stored for symbol. UpdateState reads
// the current record (zero value if absent), applies fn and writes the result back as one
// unit; callers still guarantee a single writer per symbol.
type StateStore interface {
	LoadState(ctx context.Context, symbol string) (*models.DedupeState, error)
	UpdateState(ctx context.Context, symbol string, fn func(*models.DedupeState) error) error
}

type trackedState struct {
	state models.DedupeState
	// crossKnown is false until a cross time was loaded or recorded. A cold symbol
	// behaves as if the previous cross happened at minus infinity.
	crossKnown bool
}

// Tracker suppresses repeat notifications. State is loaded lazily from the store on first
// use of a symbol and cached for the life of the process.
type Tracker struct {
	store  StateStore
	mu     sync.Mutex
	states map[string]*trackedState
}

func NewTracker(store StateStore) *Tracker {
	return &Tracker{
		store:  store,
		states: make(map[string]*trackedState),
	}
}

func (t *Tracker) get(ctx context.Context, symbol string) (*trackedState, error) {
	t.mu.Lock()
	st, ok := t.states[symbol]
	t.mu.Unlock()
	if ok {
		return st, nil
	}

	persisted, err := t.store.LoadState(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", symbol, err)
	}
	st = &trackedState{state: models.DedupeState{PreviousLevel: models.NoAlert}}
	if persisted != nil {
		st.state = *persisted
		st.crossKnown = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.states[symbol]; ok {
		return existing, nil
	}
	t.states[symbol] = st
	return st, nil
}

// ShouldNotifyLevelChange is true whenever level differs from the last recorded one,
// including a return to NO_ALERT.
func (t *Tracker) ShouldNotifyLevelChange(ctx context.Context, symbol string, level models.AlertLevel) (bool, error) {
	st, err := t.get(ctx, symbol)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return st.state.PreviousLevel != level, nil
}

// PreviousLevel returns the last recorded level for symbol.
func (t *Tracker) PreviousLevel(ctx context.Context, symbol string) (models.AlertLevel, error) {
	st, err := t.get(ctx, symbol)
	if err != nil {
		return models.NoAlert, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return st.state.PreviousLevel, nil
}

// ShouldNotifyCross is true when crossTime is strictly newer than the recorded cross, or
// when no state exists for symbol yet.
func (t *Tracker) ShouldNotifyCross(ctx context.Context, symbol string, crossTime int64) (bool, error) {
	st, err := t.get(ctx, symbol)
	if err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !st.crossKnown {
		return true, nil
	}
	return crossTime > st.state.PreviousCrossTime, nil
}

// RecordLevel stores level as the previous level, whether or not it changed.
func (t *Tracker) RecordLevel(ctx context.Context, symbol string, level models.AlertLevel) error {
	st, err := t.get(ctx, symbol)
	if err != nil {
		return err
	}
	err = t.store.UpdateState(ctx, symbol, func(s *models.DedupeState) error {
		s.PreviousLevel = level
		return nil
	})

	// The in-memory value moves even when persisting fails so the running process keeps
	// deduplicating; the store catches up on the next successful write.
	t.mu.Lock()
	st.state.PreviousLevel = level
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to persist level for %s: %w", symbol, err)
	}
	return nil
}

// RecordCross stores crossTime as the last announced cross.
func (t *Tracker) RecordCross(ctx context.Context, symbol string, crossTime int64) error {
	st, err := t.get(ctx, symbol)
	if err != nil {
		return err
	}
	err = t.store.UpdateState(ctx, symbol, func(s *models.DedupeState) error {
		s.PreviousCrossTime = crossTime
		return nil
	})

	t.mu.Lock()
	st.state.PreviousCrossTime = crossTime
	st.crossKnown = true
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to persist cross time for %s: %w", symbol, err)
	}
	return nil
}

// Snapshot returns the cached state for every symbol seen so far.
func (t *Tracker) Snapshot() map[string]models.DedupeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]models.DedupeState, len(t.states))
	for sym, st := range t.states {
		out[sym] = st.state
	}
	return out
}
