// Package scheduler runs each ticker's fetch and evaluation on its cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/marketalert/internal/logger"
	"github.com/rewired-gh/marketalert/internal/metrics"
	"github.com/rewired-gh/marketalert/internal/models"
	"github.com/rewired-gh/marketalert/internal/monitor"
	"github.com/robfig/cron/v3"
)

// Fetcher returns an ascending candle series.
type Fetcher interface {
	FetchIntraday(ctx context.Context, symbol, interval string) ([]models.Candle, error)
}

// Evaluator consumes a series for one symbol.
type Evaluator interface {
	Evaluate(ctx context.Context, symbol string, candles []models.Candle) (*monitor.Report, error)
}

// StatusNotifier is told about the first failure of a streak and about the recovery.
type StatusNotifier interface {
	SendError(ctx context.Context, symbol string, err error) error
	SendRecovery(ctx context.Context, symbol string, failureCount int) error
}

// ErrUnknownJob is returned by RunNow for symbols without a job.
var ErrUnknownJob = errors.New("no job for symbol")

// Job binds a symbol to a cron schedule.
type Job struct {
	Symbol   string
	Interval string
	Schedule string
	Location *time.Location
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	Symbol              string
	Schedule            string
	Next                time.Time
	LastRun             time.Time
	LastError           string
	ConsecutiveFailures int
}

type jobState struct {
	Job
	entry    cron.EntryID
	lastRun  time.Time
	lastErr  error
	failures int
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron      *cron.Cron
	fetcher   Fetcher
	evaluator Evaluator
	status    StatusNotifier
	metrics   *metrics.Metrics
	timeout   time.Duration

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New registers every job. status may be nil.
func New(fetcher Fetcher, evaluator Evaluator, status StatusNotifier, m *metrics.Metrics, jobs []Job) (*Scheduler, error) {
	if m == nil {
		m = metrics.NewMetrics()
	}
	cl := logger.CronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		fetcher:   fetcher,
		evaluator: evaluator,
		status:    status,
		metrics:   m,
		timeout:   2 * time.Minute,
		jobs:      make(map[string]*jobState, len(jobs)),
	}

	for _, j := range jobs {
		if _, dup := s.jobs[j.Symbol]; dup {
			return nil, fmt.Errorf("duplicate job for %s", j.Symbol)
		}
		spec := j.Schedule
		if j.Location != nil && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
			spec = "CRON_TZ=" + j.Location.String() + " " + spec
		}
		js := &jobState{Job: j}
		symbol := j.Symbol
		id, err := s.cron.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			_, _ = s.RunNow(ctx, symbol)
		})
		if err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", j.Symbol, err)
		}
		js.entry = id
		s.jobs[j.Symbol] = js
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, st := range s.Status() {
		logger.Info("Scheduled %s (%s), next run at %s", st.Symbol, st.Schedule, st.Next.Format(time.RFC3339))
	}
}

// Stop prevents new runs and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunNow fetches and evaluates symbol immediately.
func (s *Scheduler) RunNow(ctx context.Context, symbol string) (*monitor.Report, error) {
	s.mu.Lock()
	js, ok := s.jobs[symbol]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, symbol)
	}

	start := time.Now()
	logger.Debug("Starting tick for %s", symbol)
	report, err := s.tick(ctx, js.Job)
	s.handleResult(ctx, js, err)
	if err != nil {
		logger.Error("Tick for %s failed: %v", symbol, err)
		return report, err
	}
	logger.Info("Tick for %s completed in %v (notified %d, suppressed %d)",
		symbol, time.Since(start), report.Notified, report.Suppressed)
	return report, nil
}

func (s *Scheduler) tick(ctx context.Context, j Job) (*monitor.Report, error) {
	candles, err := s.fetcher.FetchIntraday(ctx, j.Symbol, j.Interval)
	if err != nil {
		s.metrics.FetchFailures.WithLabelValues(j.Symbol).Inc()
		return nil, fmt.Errorf("failed to fetch candles: %w", err)
	}
	s.metrics.CandlesFetched.WithLabelValues(j.Symbol).Set(float64(len(candles)))
	logger.Debug("Fetched %d candles for %s", len(candles), j.Symbol)
	return s.evaluator.Evaluate(ctx, j.Symbol, candles)
}

func (s *Scheduler) handleResult(ctx context.Context, js *jobState, err error) {
	s.mu.Lock()
	js.lastRun = time.Now()
	js.lastErr = err
	var sendError, sendRecovery bool
	failures := js.failures
	if err != nil {
		js.failures++
		sendError = js.failures == 1
	} else {
		sendRecovery = js.failures > 0
		js.failures = 0
	}
	s.mu.Unlock()

	if s.status == nil {
		return
	}
	if sendError {
		if sendErr := s.status.SendError(ctx, js.Symbol, err); sendErr != nil {
			logger.Warn("Failed to send error notification for %s: %v", js.Symbol, sendErr)
		}
	}
	if sendRecovery {
		if sendErr := s.status.SendRecovery(ctx, js.Symbol, failures); sendErr != nil {
			logger.Warn("Failed to send recovery notification for %s: %v", js.Symbol, sendErr)
		}
	}
}

// Status returns one entry per job, sorted by symbol.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, js := range s.jobs {
		st := JobStatus{
			Symbol:              js.Symbol,
			Schedule:            js.Schedule,
			Next:                s.cron.Entry(js.entry).Next,
			LastRun:             js.lastRun,
			ConsecutiveFailures: js.failures,
		}
		if js.lastErr != nil {
			st.LastError = js.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Summary renders Status as plain text for chat commands.
func (s *Scheduler) Summary() string {
	var b strings.Builder
	for _, st := range s.Status() {
		fmt.Fprintf(&b, "%s: ", st.Symbol)
		if st.LastRun.IsZero() {
			b.WriteString("not run yet")
		} else {
			fmt.Fprintf(&b, "last run %s", st.LastRun.Format("2006-01-02 15:04"))
		}
		if st.ConsecutiveFailures > 0 {
			fmt.Fprintf(&b, ", %d failure(s): %s", st.ConsecutiveFailures, st.LastError)
		}
		if !st.Next.IsZero() {
			fmt.Fprintf(&b, ", next %s", st.Next.Format("2006-01-02 15:04 MST"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
