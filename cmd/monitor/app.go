package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/adapters/composer"
	"pasantias-monitor/internal/adapters/fetcher"
	"pasantias-monitor/internal/adapters/notifier"
	"pasantias-monitor/internal/adapters/store"
	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/config"
	"pasantias-monitor/internal/infra/lock"
	"pasantias-monitor/internal/infra/openai"
	"pasantias-monitor/internal/infra/profiles"
	"pasantias-monitor/internal/usecase/cycle"
	"pasantias-monitor/internal/usecase/dispatch"
	"pasantias-monitor/internal/usecase/schedule"
)

// app собирает зависимости монитора и закрывает их в обратном порядке.
type app struct {
	cfg        config.AppConfig
	log        zerolog.Logger
	store      domain.SnapshotStore
	controller *cycle.Controller
	dispatcher *dispatch.Dispatcher
	closers    []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("monitor: ошибка при закрытии ресурса")
		}
	}
	a.closers = nil
}

// openStoreOnly нужен команде status: ей не требуются нотификатор и сеть.
func openStoreOnly(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}
	st, err := store.Open(ctx, storeConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	a.controller = cycle.NewController(nil, st, nil, nil, cycleOptions(cfg), logger)
	return a, nil
}

// buildApp собирает полный конвейер для check-once и run-scheduled.
func buildApp(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("конфигурация: %w", err)
	}
	a := &app{cfg: cfg, log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := store.Open(ctx, storeConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	d, err := a.buildDispatcher(ctx, st)
	if err != nil {
		return nil, err
	}
	a.dispatcher = d

	var cycleLock domain.CycleLock
	if cfg.Redis.Addr != "" {
		client, err := lock.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		cycleLock = lock.NewRedis(client, cfg.Redis.LockKey, cfg.Redis.LockTTL, logger)
	}

	f := fetcher.NewColly(fetcher.Config{
		ListingURL:   cfg.Fetch.ListingURL,
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		FetchDetails: cfg.Fetch.Details,
	}, logger)
	a.controller = cycle.NewController(f, a.store, d, cycleLock, cycleOptions(cfg), logger)
	ok = true
	return a, nil
}

// buildDispatcher собирает рассылку. recorder может быть журналом в памяти (test-notify).
func (a *app) buildDispatcher(ctx context.Context, recorder domain.NotificationRecorder) (*dispatch.Dispatcher, error) {
	recipients, err := profiles.Resolve(a.cfg.Notify.ProfilesFile, a.cfg.Notify.RecipientAddress, a.cfg.Notify.RecipientName)
	if err != nil {
		return nil, err
	}
	n, err := a.buildNotifier(ctx)
	if err != nil {
		return nil, err
	}
	opts := dispatch.Options{
		Recipients:      recipients,
		SubjectTemplate: a.cfg.Notify.SubjectTemplate,
		MaxAttempts:     a.cfg.Notify.MaxAttempts,
		SendIndividual:  a.cfg.Notify.SendIndividual,
		SendSummary:     a.cfg.Notify.SendSummary,
	}
	if recorder == nil {
		recorder = &memoryRecorder{}
	}
	return dispatch.NewDispatcher(buildComposer(a.cfg), n, recorder, opts, a.log), nil
}

func (a *app) buildNotifier(_ context.Context) (domain.Notifier, error) {
	cfg := a.cfg
	switch strings.ToLower(cfg.Notify.Backend) {
	case "smtp", "email":
		return notifier.NewSMTP(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			StartTLS: cfg.SMTP.StartTLS,
			Timeout:  cfg.SMTP.Timeout,
		})
	case "telegram":
		return notifier.NewTelegramFromToken(cfg.Telegram.Token, cfg.Telegram.RatePerSec)
	case "amqp", "rabbitmq":
		n, err := notifier.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		return n, nil
	case "log":
		return notifier.NewLog(a.log), nil
	default:
		return nil, fmt.Errorf("неизвестный NOTIFIER %q", cfg.Notify.Backend)
	}
}

func buildComposer(cfg config.AppConfig) domain.Composer {
	var fallback domain.Composer = composer.Plain{}
	if strings.EqualFold(cfg.Composer.Fallback, "template") {
		fallback = composer.NewTemplate()
	}
	switch strings.ToLower(cfg.Composer.Kind) {
	case "openai":
		client := openai.NewClient(cfg.Composer.APIKey, cfg.Composer.BaseURL, cfg.Composer.Timeout)
		return composer.Fallback{
			Primary:   composer.NewOpenAI(client, cfg.Composer.Model, cfg.Composer.Timeout),
			Secondary: fallback,
		}
	case "template":
		return composer.NewTemplate()
	default:
		return composer.Plain{}
	}
}

func storeConfig(cfg config.AppConfig) store.Config {
	return store.Config{
		Driver:      cfg.Store.Driver,
		Dir:         cfg.Store.Dir,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresDSN: cfg.Store.PGDSN,
		BusyTimeout: cfg.Store.BusyTimeout,
	}
}

func cycleOptions(cfg config.AppConfig) cycle.Options {
	opts := cycle.DefaultOptions()
	opts.RetryAttempts = cfg.Cycle.RetryAttempts
	opts.RetryDelay = cfg.Cycle.RetryDelay
	opts.FetchTimeout = cfg.Fetch.Timeout
	opts.BaselineOnFirstRun = cfg.Cycle.BaselineOnFirstRun
	opts.NotifyOnContactReveal = cfg.Cycle.NotifyOnContactReveal
	return opts
}

func scheduleConfig(cfg config.AppConfig) schedule.Config {
	return schedule.Config{
		Cron:       cfg.Schedule.Cron,
		Interval:   cfg.Schedule.Interval,
		Timezone:   cfg.Schedule.Timezone,
		RunOnStart: cfg.Schedule.RunOnStart,
	}
}

// memoryRecorder держит журнал test-notify в памяти, хранилище не трогается.
type memoryRecorder struct {
	records []domain.NotificationRecord
}

func (m *memoryRecorder) RecordNotification(_ context.Context, r domain.NotificationRecord) error {
	m.records = append(m.records, r)
	return nil
}

func (m *memoryRecorder) ListNotifications(context.Context) ([]domain.NotificationRecord, error) {
	return m.records, nil
}
