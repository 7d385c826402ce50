package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/usecase/cycle"
)

type stubMonitor struct {
	lastN  int
	runErr error
	runs   int
}

func (m *stubMonitor) Status(_ context.Context, lastN int) (cycle.Status, error) {
	m.lastN = lastN
	return cycle.Status{Offers: 3, State: cycle.StateIdle}, nil
}

func (m *stubMonitor) RunCycle(context.Context) (cycle.Report, error) {
	m.runs++
	return cycle.Report{New: 1}, m.runErr
}

func TestStatusEndpoint(t *testing.T) {
	mon := &stubMonitor{}
	next := time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC)
	srv := NewServer(mon, Options{Next: func() time.Time { return next }}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?last=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if resp.Offers != 3 || resp.NextCheckAt == nil || !resp.NextCheckAt.Equal(next) || mon.lastN != 5 {
		t.Fatalf("неверный статус: %+v, last=%d", resp, mon.lastN)
	}

	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?last=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для отрицательного last, получили %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := NewServer(&stubMonitor{}, Options{}, zerolog.Nop())
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: ожидали 200, получили %d", path, rec.Code)
		}
	}
}

func TestCheckEndpointAuthAndConflict(t *testing.T) {
	mon := &stubMonitor{}
	srv := NewServer(mon, Options{CheckToken: "secreto"}, zerolog.Nop())

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/check", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		srv.Router.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(""); code != http.StatusUnauthorized {
		t.Fatalf("без токена ожидали 401, получили %d", code)
	}
	if code := do("otro"); code != http.StatusUnauthorized || mon.runs != 0 {
		t.Fatalf("с неверным токеном проверка запускаться не должна")
	}
	if code := do("secreto"); code != http.StatusOK || mon.runs != 1 {
		t.Fatalf("ожидали запуск проверки, код %d", code)
	}
	mon.runErr = domain.ErrCycleInProgress
	if code := do("secreto"); code != http.StatusConflict {
		t.Fatalf("ожидали 409 при идущей проверке, получили %d", code)
	}
	mon.runErr = &domain.DiffWarning{Reason: domain.DiffWarningEmptyFetch}
	if code := do("secreto"); code != http.StatusOK {
		t.Fatalf("предупреждение не считается ошибкой, получили %d", code)
	}
	mon.runErr = errors.New("storage down")
	if code := do("secreto"); code != http.StatusBadGateway {
		t.Fatalf("ожидали 502, получили %d", code)
	}
}

func TestCheckDisabledWithoutToken(t *testing.T) {
	mon := &stubMonitor{}
	srv := NewServer(mon, Options{}, zerolog.Nop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/check", nil)
	req.Header.Set("Authorization", "Bearer ")
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden || mon.runs != 0 {
		t.Fatalf("без настроенного токена ручной запуск закрыт, получили %d", rec.Code)
	}
}
