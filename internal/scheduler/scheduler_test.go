package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rewired-gh/marketalert/internal/metrics"
	"github.com/rewired-gh/marketalert/internal/models"
	"github.com/rewired-gh/marketalert/internal/monitor"
)

type fakeFetcher struct {
	mu    sync.Mutex
	errs  []error // consumed one per call; nil entries succeed
	calls int
}

func (f *fakeFetcher) FetchIntraday(ctx context.Context, symbol, interval string) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []models.Candle{{Time: 1, Open: 1, High: 2, Low: 1, Close: 2}, {Time: 2, Open: 2, High: 3, Low: 2, Close: 3}}, nil
}

type fakeEvaluator struct {
	mu      sync.Mutex
	symbols []string
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, symbol string, candles []models.Candle) (*monitor.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols = append(e.symbols, symbol)
	return &monitor.Report{Symbol: symbol, Notified: len(candles)}, nil
}

type fakeStatus struct {
	mu         sync.Mutex
	errors     []string
	recoveries []int
}

func (s *fakeStatus) SendError(ctx context.Context, symbol string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, symbol+": "+err.Error())
	return nil
}

func (s *fakeStatus) SendRecovery(ctx context.Context, symbol string, failureCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recoveries = append(s.recoveries, failureCount)
	return nil
}

var testJobs = []Job{
	{Symbol: "^VIX", Interval: "5min", Schedule: "*/30 9-16 * * 1-5"},
	{Symbol: "SPY", Interval: "15min", Schedule: "5 16 * * 1-5"},
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&fakeFetcher{}, &fakeEvaluator{}, nil, nil, []Job{{Symbol: "X", Schedule: "not a cron"}})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestNew_DuplicateJob(t *testing.T) {
	_, err := New(&fakeFetcher{}, &fakeEvaluator{}, nil, nil, []Job{testJobs[0], testJobs[0]})
	if err == nil {
		t.Fatal("expected error for duplicate job")
	}
}

func TestRunNow(t *testing.T) {
	m := metrics.NewMetrics()
	eval := &fakeEvaluator{}
	s, err := New(&fakeFetcher{}, eval, nil, m, testJobs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := s.RunNow(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if report.Symbol != "SPY" || report.Notified != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(eval.symbols) != 1 || eval.symbols[0] != "SPY" {
		t.Errorf("evaluated %v", eval.symbols)
	}
	if got := testutil.ToFloat64(m.CandlesFetched.WithLabelValues("SPY")); got != 2 {
		t.Errorf("candles fetched gauge = %v", got)
	}

	if _, err := s.RunNow(context.Background(), "QQQ"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("RunNow(unknown) error = %v, want ErrUnknownJob", err)
	}
}

func TestRunNow_ErrorAndRecoveryNotifications(t *testing.T) {
	boom := errors.New("api down")
	fetcher := &fakeFetcher{errs: []error{boom, boom, boom, nil, nil}}
	status := &fakeStatus{}
	m := metrics.NewMetrics()
	s, err := New(fetcher, &fakeEvaluator{}, status, m, testJobs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.RunNow(ctx, "^VIX"); !errors.Is(err, boom) {
			t.Fatalf("run %d: error = %v, want boom", i, err)
		}
	}
	if len(status.errors) != 1 || !strings.Contains(status.errors[0], "api down") {
		t.Errorf("expected one error notification, got %v", status.errors)
	}
	if got := testutil.ToFloat64(m.FetchFailures.WithLabelValues("^VIX")); got != 3 {
		t.Errorf("fetch failures = %v, want 3", got)
	}
	if st := s.Status()[1]; st.Symbol != "^VIX" || st.ConsecutiveFailures != 3 || st.LastError == "" {
		t.Errorf("unexpected status %+v", st)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.RunNow(ctx, "^VIX"); err != nil {
			t.Fatalf("recovery run %d: %v", i, err)
		}
	}
	if len(status.recoveries) != 1 || status.recoveries[0] != 3 {
		t.Errorf("expected one recovery after 3 failures, got %v", status.recoveries)
	}
	if st := s.Status()[1]; st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Errorf("status not reset: %+v", st)
	}
}

func TestStatus_NextRunInJobLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(&fakeFetcher{}, &fakeEvaluator{}, nil, nil, []Job{
		{Symbol: "SPY", Interval: "5min", Schedule: "5 16 * * *", Location: ny},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	st := s.Status()
	if len(st) != 1 {
		t.Fatalf("got %d statuses", len(st))
	}
	next := st[0].Next.In(ny)
	if next.Hour() != 16 || next.Minute() != 5 {
		t.Errorf("next run = %v, want 16:05 New York time", next)
	}
	if !strings.Contains(s.Summary(), "SPY: not run yet") {
		t.Errorf("unexpected summary %q", s.Summary())
	}
}
