package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/usecase/cycle"
)

// Monitor: то, что сервер показывает и умеет запускать.
type Monitor interface {
	Status(ctx context.Context, lastN int) (cycle.Status, error)
	RunCycle(ctx context.Context) (cycle.Report, error)
}

// Options настраивает эндпоинты.
type Options struct {
	// CheckToken открывает POST /check. Пустой токен отключает ручной запуск.
	CheckToken string
	// Next возвращает время следующей плановой проверки.
	Next func() time.Time
}

// StatusResponse: ответ GET /status.
type StatusResponse struct {
	cycle.Status
	NextCheckAt *time.Time `json:"next_check_at,omitempty"`
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	log    zerolog.Logger
	srv    *http.Server
}

// NewServer создаёт HTTP сервер с /healthz, /status, /metrics и POST /check.
func NewServer(monitor Monitor, opts Options, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http").Logger()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.Timeout(15*time.Second)).Get("/status", func(w http.ResponseWriter, r *http.Request) {
		lastN := 10
		if raw := r.URL.Query().Get("last"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				WriteError(w, http.StatusBadRequest, errors.New("параметр last должен быть неотрицательным числом"))
				return
			}
			lastN = n
		}
		st, err := monitor.Status(r.Context(), lastN)
		if err != nil {
			logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg("http: статус недоступен")
			WriteError(w, http.StatusInternalServerError, err)
			return
		}
		resp := StatusResponse{Status: st}
		if opts.Next != nil {
			if next := opts.Next(); !next.IsZero() {
				resp.NextCheckAt = &next
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	})

	r.With(TokenAuthMiddleware(opts.CheckToken)).Post("/check", func(w http.ResponseWriter, r *http.Request) {
		report, err := monitor.RunCycle(context.WithoutCancel(r.Context()))
		var warn *domain.DiffWarning
		switch {
		case errors.Is(err, domain.ErrCycleInProgress):
			WriteError(w, http.StatusConflict, err)
		case errors.As(err, &warn), err == nil:
			WriteJSON(w, http.StatusOK, report)
		default:
			logger.Error().Err(err).Msg("http: ручная проверка завершилась ошибкой")
			WriteJSON(w, http.StatusBadGateway, report)
		}
	})

	return &Server{Router: r, log: logger}
}

// Start запускает http.Server и блокируется до Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
	}
	s.log.Info().Str("addr", addr).Msg("http: сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
