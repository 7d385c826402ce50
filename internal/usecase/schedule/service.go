package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/usecase/cycle"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

// DefaultSpec: ежедневная проверка в 09:00.
const DefaultSpec = "0 9 * * *"

// Runner выполняет одну проверку.
type Runner interface {
	RunCycle(ctx context.Context) (cycle.Report, error)
}

// Config описывает расписание. Interval, если задан, заменяет Cron.
type Config struct {
	Cron       string
	Interval   time.Duration
	Timezone   string
	RunOnStart bool
}

// Spec возвращает итоговое cron-выражение.
func (c Config) Spec() string {
	if c.Interval > 0 {
		return "@every " + c.Interval.String()
	}
	if strings.TrimSpace(c.Cron) == "" {
		return DefaultSpec
	}
	return strings.TrimSpace(c.Cron)
}

// Service запускает проверки по расписанию.
type Service struct {
	runner Runner
	cfg    Config
	loc    *time.Location
	cron   *cron.Cron
	logger zerolog.Logger

	mu    sync.Mutex
	entry cron.EntryID
	wg    sync.WaitGroup
}

// NewService проверяет расписание и создаёт планировщик. Пересекающиеся запуски пропускаются.
func NewService(runner Runner, cfg Config, logger zerolog.Logger) (*Service, error) {
	loc, err := ResolveLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(cfg.Spec()); err != nil {
		return nil, fmt.Errorf("расписание %q: %w", cfg.Spec(), err)
	}
	logger = logger.With().Str("component", "schedule").Logger()
	cronLogger := cron.PrintfLogger(&logger)
	return &Service{
		runner: runner,
		cfg:    cfg,
		loc:    loc,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}, nil
}

// Start регистрирует задачу и запускает планировщик.
func (s *Service) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.cfg.Spec(), func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Str("spec", s.cfg.Spec()).Str("tz", s.loc.String()).Time("next", s.Next()).Msg("schedule: планировщик запущен")

	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runOnce(ctx)
		}()
	}
	return nil
}

// Stop останавливает планировщик и ждёт текущую проверку.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info().Msg("schedule: планировщик остановлен")
}

// Next возвращает время следующего запуска, нулевое до Start.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Service) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.runner.RunCycle(ctx)
	var warn *domain.DiffWarning
	switch {
	case err == nil:
		s.logger.Info().Str("cycle_id", report.CycleID).Int("new", report.New).Msg("schedule: проверка выполнена")
	case errors.Is(err, domain.ErrCycleInProgress):
		s.logger.Warn().Msg("schedule: предыдущая проверка ещё идёт, пропускаем")
	case errors.As(err, &warn):
		s.logger.Warn().Str("reason", warn.Reason).Msg("schedule: проверка пропущена")
	default:
		s.logger.Error().Err(err).Msg("schedule: проверка не удалась")
	}
}

// NextRun считает следующий запуск без старта планировщика.
func NextRun(cfg Config, now time.Time) (time.Time, error) {
	loc, err := ResolveLocation(cfg.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(cfg.Spec())
	if err != nil {
		return time.Time{}, fmt.Errorf("расписание %q: %w", cfg.Spec(), err)
	}
	return sched.Next(now.In(loc)), nil
}

// ResolveLocation принимает часовой пояс в свободном регистре. Пустая строка: локальное время.
func ResolveLocation(raw string) (*time.Location, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Local, nil
	}
	name, err := normalizeTimezone(raw)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			if segment == "" {
				continue
			}
			segments[j] = strings.ToUpper(segment[:1]) + segment[1:]
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
