package cycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
	"pasantias-monitor/internal/usecase/diff"
	"pasantias-monitor/internal/usecase/dispatch"
)

// State: стадия проверки.
type State string

const (
	StateIdle       State = "IDLE"
	StateFetching   State = "FETCHING"
	StateDiffing    State = "DIFFING"
	StateNotifying  State = "NOTIFYING"
	StatePersisting State = "PERSISTING"
	StateFailed     State = "FAILED"
)

// Options: параметры проверки.
type Options struct {
	RetryAttempts int
	RetryDelay    time.Duration
	FetchTimeout  time.Duration
	// BaselineOnFirstRun: при первом запуске только запомнить оферты, без уведомлений.
	BaselineOnFirstRun bool
	// NotifyOnContactReveal: уведомлять, когда у известной оферты появился email.
	NotifyOnContactReveal bool
}

// DefaultOptions повторяет настройки мониторинга по умолчанию.
func DefaultOptions() Options {
	return Options{
		RetryAttempts:      3,
		RetryDelay:         30 * time.Second,
		FetchTimeout:       30 * time.Second,
		BaselineOnFirstRun: true,
	}
}

// Dispatcher: то, что нужно контроллеру от рассылки.
type Dispatcher interface {
	Dispatch(ctx context.Context, cycleID string, batch []domain.Notice, prior []domain.NotificationRecord) ([]domain.NotificationRecord, error)
	Recipients() []domain.Recipient
}

// Report: итог одной проверки.
type Report struct {
	CycleID    string        `json:"cycle_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	State      State         `json:"state"`
	Warning    string        `json:"warning,omitempty"`
	Error      string        `json:"error,omitempty"`
	Baseline   bool          `json:"baseline,omitempty"`

	Fetched           int `json:"fetched"`
	Invalid           int `json:"invalid"`
	New               int `json:"new"`
	Updated           int `json:"updated"`
	Unchanged         int `json:"unchanged"`
	RemovalCandidates int `json:"removal_candidates"`
	Removed           int `json:"removed"`
	Retried           int `json:"retried"`
	Sent              int `json:"sent"`
	Failed            int `json:"failed"`
	Offers            int `json:"offers"`
}

// Controller проводит проверку через стадии загрузки, сравнения, рассылки и сохранения.
type Controller struct {
	fetcher    domain.Fetcher
	store      domain.SnapshotStore
	dispatcher Dispatcher
	lock       domain.CycleLock
	opts       Options
	logger     zerolog.Logger

	running sync.Mutex
	mu      sync.RWMutex
	state   State
	last    *Report

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewController создаёт контроллер. lock может быть nil, тогда действует только локальная блокировка.
func NewController(fetcher domain.Fetcher, store domain.SnapshotStore, dispatcher Dispatcher, lock domain.CycleLock, opts Options, logger zerolog.Logger) *Controller {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	return &Controller{
		fetcher:    fetcher,
		store:      store,
		dispatcher: dispatcher,
		lock:       lock,
		opts:       opts,
		logger:     logger.With().Str("component", "cycle").Logger(),
		state:      StateIdle,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
		newID:      uuid.NewString,
	}
}

// State возвращает текущую стадию.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastReport возвращает итог последней проверки этого процесса.
func (c *Controller) LastReport() (Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return Report{}, false
	}
	return *c.last, true
}

// RunCycle выполняет одну проверку. Параллельный запуск получает ErrCycleInProgress.
// DiffWarning возвращается вместе с отчётом: снимок при этом не меняется.
func (c *Controller) RunCycle(ctx context.Context) (Report, error) {
	if !c.running.TryLock() {
		return Report{}, domain.ErrCycleInProgress
	}
	defer c.running.Unlock()

	if c.lock != nil {
		release, ok, err := c.lock.TryAcquire(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("блокировка проверки: %w", err)
		}
		if !ok {
			return Report{}, domain.ErrCycleInProgress
		}
		defer release()
	}

	report := Report{CycleID: c.newID(), StartedAt: c.now()}
	logger := c.logger.With().Str("cycle_id", report.CycleID).Logger()
	logger.Info().Msg("cycle: проверка началась")

	err := c.run(ctx, logger, &report)

	report.FinishedAt = c.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	var warn *domain.DiffWarning
	switch {
	case err == nil:
		report.State = StateIdle
		metrics.ObserveCycle("success", report.Duration, report.Offers, report.New)
		logger.Info().Int("new", report.New).Int("sent", report.Sent).Int("failed", report.Failed).
			Dur("duration", report.Duration).Msg("cycle: проверка завершена")
	case errors.As(err, &warn):
		report.State = StateIdle
		report.Warning = warn.Reason
		metrics.ObserveCycle("skipped", report.Duration, -1, 0)
		logger.Warn().Str("reason", warn.Reason).Msg("cycle: подозрительная выдача, снимок не меняем")
	default:
		report.State = StateFailed
		report.Error = err.Error()
		metrics.ObserveCycle("failed", report.Duration, -1, 0)
		logger.Error().Err(err).Msg("cycle: проверка не удалась")
	}

	c.mu.Lock()
	c.state = report.State
	saved := report
	c.last = &saved
	c.mu.Unlock()
	return report, err
}

func (c *Controller) run(ctx context.Context, logger zerolog.Logger, report *Report) error {
	previous, err := c.store.Load(ctx)
	if err != nil {
		return wrapStorage("load", err)
	}

	c.setState(StateFetching)
	raws, err := c.fetchWithRetry(ctx, logger)
	if err != nil {
		return err
	}
	report.Fetched = len(raws)

	offers := make([]domain.Offer, 0, len(raws))
	for _, raw := range raws {
		offer, err := domain.Normalize(raw, report.StartedAt)
		if err != nil {
			report.Invalid++
			logger.Warn().Err(err).Msg("cycle: запись пропущена")
			continue
		}
		offers = append(offers, offer)
	}

	c.setState(StateDiffing)
	delta, err := diff.ComputeDelta(previous, offers, report.StartedAt)
	if err != nil {
		return err
	}
	merged := diff.Apply(previous, delta, report.StartedAt)
	report.New = len(delta.New)
	report.Updated = len(delta.Updated)
	report.Unchanged = len(delta.Unchanged)
	report.RemovalCandidates = len(delta.RemovalCandidates)
	report.Removed = len(delta.RemovedKeys)
	report.Offers = len(merged.Offers)

	c.setState(StateNotifying)
	prior, err := c.store.ListNotifications(ctx)
	if err != nil {
		return wrapStorage("list_notifications", err)
	}
	report.Baseline = previous.IsFirstRun() && c.opts.BaselineOnFirstRun
	if report.Baseline {
		logger.Info().Int("offers", len(delta.New)).Msg("cycle: первый запуск, запоминаем оферты без уведомлений")
	}
	batch, retried := c.buildBatch(delta, merged, prior, report.Baseline)
	report.Retried = retried

	records, err := c.dispatcher.Dispatch(ctx, report.CycleID, batch, prior)
	for _, r := range records {
		if r.Outcome == domain.OutcomeSent {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	if err != nil {
		return fmt.Errorf("рассылка: %w", err)
	}

	c.setState(StatePersisting)
	if err := c.store.Save(ctx, merged); err != nil {
		return wrapStorage("save", err)
	}
	return nil
}

// buildBatch собирает уведомления: новые оферты, появившиеся контакты и повторы прошлых неудач.
func (c *Controller) buildBatch(delta domain.DeltaResult, merged domain.Snapshot, prior []domain.NotificationRecord, baseline bool) ([]domain.Notice, int) {
	var batch []domain.Notice
	queued := make(map[string]bool)
	add := func(offer domain.Offer, event domain.NotificationEvent) {
		id := offer.Key + "|" + string(event)
		if queued[id] {
			return
		}
		queued[id] = true
		batch = append(batch, domain.Notice{Offer: offer, Event: event})
	}

	if !baseline {
		for _, offer := range delta.New {
			add(offer, domain.EventNew)
		}
	}
	if c.opts.NotifyOnContactReveal {
		for _, key := range delta.ContactRevealed {
			if offer, ok := merged.Offers[key]; ok {
				add(offer, domain.EventContactRevealed)
			}
		}
	}

	pending := dispatch.PendingRetries(prior, c.dispatcher.Recipients())
	keys := make([]string, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	retried := 0
	for _, key := range keys {
		offer, ok := merged.Offers[key]
		if !ok {
			continue
		}
		for _, event := range pending[key] {
			if event == domain.EventContactRevealed && !c.opts.NotifyOnContactReveal {
				continue
			}
			before := len(batch)
			add(offer, event)
			if len(batch) > before {
				retried++
			}
		}
	}
	return batch, retried
}

func (c *Controller) fetchWithRetry(ctx context.Context, logger zerolog.Logger) ([]domain.RawOffer, error) {
	var lastErr *domain.FetchError
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		fetchCtx := ctx
		cancel := func() {}
		if c.opts.FetchTimeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, c.opts.FetchTimeout)
		}
		raws, err := c.fetcher.Fetch(fetchCtx)
		cancel()
		if err == nil {
			return raws, nil
		}

		lastErr = asFetchError(err)
		metrics.ObserveFetchError(string(lastErr.Kind))
		logger.Warn().Err(lastErr).Int("attempt", attempt).Int("of", c.opts.RetryAttempts).Msg("cycle: загрузка не удалась")
		if ctx.Err() != nil || !lastErr.Transient() || attempt == c.opts.RetryAttempts {
			break
		}
		if err := c.sleep(ctx, c.opts.RetryDelay*time.Duration(attempt)); err != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func asFetchError(err error) *domain.FetchError {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.FetchError{Kind: domain.FetchTimeout, Err: err}
	}
	return &domain.FetchError{Kind: domain.FetchConnection, Err: err}
}

func wrapStorage(op string, err error) error {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
