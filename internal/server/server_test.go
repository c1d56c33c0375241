package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rewired-gh/marketalert/internal/metrics"
	"github.com/rewired-gh/marketalert/internal/models"
	"github.com/rewired-gh/marketalert/internal/monitor"
	"github.com/rewired-gh/marketalert/internal/scheduler"
)

const testToken = "0123456789abcdef0123"

type fakeHealth struct{ status models.HealthStatus }

func (f fakeHealth) Health() models.HealthStatus { return f.status }

type fakeRunner struct {
	calls []string
	err   error
}

func (f *fakeRunner) RunNow(ctx context.Context, symbol string) (*monitor.Report, error) {
	f.calls = append(f.calls, symbol)
	if f.err != nil {
		return nil, f.err
	}
	if symbol != "^VIX" {
		return nil, scheduler.ErrUnknownJob
	}
	return &monitor.Report{
		Symbol:   symbol,
		Kind:     monitor.KindVolatility,
		Result:   &models.AlertResult{Alert: true, Level: models.High, Percentage: 21},
		Notified: 1,
	}, nil
}

func (f *fakeRunner) Status() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Symbol: "^VIX", Schedule: "*/30 9-16 * * 1-5", ConsecutiveFailures: 2, LastError: "api down"}}
}

func newTestServer(health models.HealthStatus, runner *fakeRunner) *Server {
	return New(Options{
		Addr:         "127.0.0.1:0",
		Version:      "v1.2.3",
		TriggerToken: testToken,
		Notifier:     fakeHealth{status: health},
		Runner:       runner,
		Metrics:      metrics.NewMetrics().Handler(),
	})
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestIndex(t *testing.T) {
	s := newTestServer(models.HealthStatus{Healthy: true}, &fakeRunner{})
	w := do(t, s, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "v1.2.3") {
		t.Errorf("GET / = %d %q", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     models.HealthStatus
		wantCode   int
		wantStatus string
	}{
		{"healthy", models.HealthStatus{Healthy: true}, http.StatusOK, "ok"},
		{"degraded", models.HealthStatus{Healthy: false, LastError: "telegram unreachable", ConsecutiveFailures: 3}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(tt.health, &fakeRunner{}), http.MethodGet, "/healthz", "")
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			var body struct {
				Status   string              `json:"status"`
				Notifier models.HealthStatus `json:"notifier"`
				Jobs     []map[string]any    `json:"jobs"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Notifier.LastError != tt.health.LastError {
				t.Errorf("notifier = %+v", body.Notifier)
			}
			if len(body.Jobs) != 1 || body.Jobs[0]["last_error"] != "api down" {
				t.Errorf("jobs = %v", body.Jobs)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	m.NotificationsTotal.WithLabelValues("^VIX", "level_change").Inc()
	s := New(Options{Metrics: m.Handler()})

	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `marketalert_notifications_total{kind="level_change",symbol="^VIX"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}

func TestTrigger(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(models.HealthStatus{Healthy: true}, runner)

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
	}{
		{"no token", "/trigger/%5EVIX", "", http.StatusUnauthorized},
		{"wrong token", "/trigger/%5EVIX", "nope", http.StatusForbidden},
		{"unknown symbol", "/trigger/QQQ", testToken, http.StatusNotFound},
		{"ok", "/trigger/%5EVIX", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.path, tt.token)
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}

	if len(runner.calls) != 2 {
		t.Errorf("runner called %d times, want 2 (rejected requests must not run)", len(runner.calls))
	}

	w := do(t, s, http.MethodPost, "/trigger/%5EVIX", testToken)
	var body struct {
		Notified int                `json:"notified"`
		Result   models.AlertResult `json:"result"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Notified != 1 || body.Result.Level != models.High {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestTrigger_RunFailure(t *testing.T) {
	s := newTestServer(models.HealthStatus{Healthy: true}, &fakeRunner{err: errors.New("fetch failed")})
	if w := do(t, s, http.MethodPost, "/trigger/%5EVIX", testToken); w.Code != http.StatusBadGateway {
		t.Errorf("code = %d, want 502", w.Code)
	}
}

func TestTrigger_DisabledWithoutToken(t *testing.T) {
	s := New(Options{Runner: &fakeRunner{}})
	if w := do(t, s, http.MethodPost, "/trigger/%5EVIX", "anything"); w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestHealth_IncludesStates(t *testing.T) {
	s := New(Options{States: func() map[string]models.DedupeState {
		return map[string]models.DedupeState{"^VIX": {PreviousLevel: models.ExtremeHigh, PreviousCrossTime: 42}}
	}})
	w := do(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var body struct {
		States map[string]models.DedupeState `json:"states"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := body.States["^VIX"]; got.PreviousLevel != models.ExtremeHigh || got.PreviousCrossTime != 42 {
		t.Errorf("states = %+v", body.States)
	}
}

type fakeLister struct {
	recs  []models.NotificationRecord
	err   error
	limit int
}

func (f *fakeLister) RecentNotifications(ctx context.Context, k int) ([]models.NotificationRecord, error) {
	f.limit = k
	if f.err != nil {
		return nil, f.err
	}
	return f.recs, nil
}

func TestNotifications(t *testing.T) {
	lister := &fakeLister{recs: []models.NotificationRecord{
		{ID: "b", Symbol: "^VIX", Kind: models.KindLevelChange, Level: models.High},
		{ID: "a", Symbol: "^VIX", Kind: models.KindCross, CrossTime: 42},
	}}
	s := New(Options{Notifications: lister})

	tests := []struct {
		path      string
		wantCode  int
		wantLimit int
	}{
		{"/notifications", http.StatusOK, 20},
		{"/notifications?limit=5", http.StatusOK, 5},
		{"/notifications?limit=100000", http.StatusOK, 200},
		{"/notifications?limit=0", http.StatusBadRequest, 0},
		{"/notifications?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			lister.limit = 0
			w := do(t, s, http.MethodGet, tt.path, "")
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if lister.limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", lister.limit, tt.wantLimit)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Notifications []models.NotificationRecord `json:"notifications"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(body.Notifications) != 2 || body.Notifications[0].ID != "b" || body.Notifications[1].CrossTime != 42 {
				t.Errorf("notifications = %+v", body.Notifications)
			}
		})
	}
}

func TestNotifications_Errors(t *testing.T) {
	if w := do(t, New(Options{}), http.MethodGet, "/notifications", ""); w.Code != http.StatusNotFound {
		t.Errorf("without a lister code = %d, want 404", w.Code)
	}
	s := New(Options{Notifications: &fakeLister{err: errors.New("db locked")}})
	if w := do(t, s, http.MethodGet, "/notifications", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", w.Code)
	}
}
