package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// AppConfig описывает конфигурацию монитора.
type AppConfig struct {
	AppEnv     string `envconfig:"APP_ENV" default:"dev"`
	HTTPAddr   string `envconfig:"HTTP_ADDR"`
	CheckToken string `envconfig:"CHECK_TOKEN"`

	Store struct {
		Driver      string        `envconfig:"STORE_DRIVER" default:"file"`
		Dir         string        `envconfig:"DATA_DIR" default:"data"`
		SQLitePath  string        `envconfig:"SQLITE_PATH"`
		PGDSN       string        `envconfig:"PG_DSN"`
		BusyTimeout time.Duration `envconfig:"SQLITE_BUSY_TIMEOUT" default:"5s"`
	} `envconfig:""`

	Fetch struct {
		ListingURL string        `envconfig:"LISTING_URL"`
		UserAgent  string        `envconfig:"USER_AGENT"`
		Timeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
		Details    bool          `envconfig:"FETCH_DETAILS" default:"true"`
	} `envconfig:""`

	Cycle struct {
		RetryAttempts         int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
		RetryDelay            time.Duration `envconfig:"RETRY_DELAY" default:"30s"`
		BaselineOnFirstRun    bool          `envconfig:"BASELINE_ON_FIRST_RUN" default:"true"`
		NotifyOnContactReveal bool          `envconfig:"NOTIFY_ON_CONTACT_REVEAL" default:"false"`
	} `envconfig:""`

	Schedule struct {
		Cron       string        `envconfig:"CHECK_CRON" default:"0 9 * * *"`
		Interval   time.Duration `envconfig:"CHECK_INTERVAL"`
		Timezone   string        `envconfig:"CHECK_TIMEZONE" default:"America/Argentina/Buenos_Aires"`
		RunOnStart bool          `envconfig:"RUN_ON_START" default:"false"`
	} `envconfig:""`

	Notify struct {
		Backend          string `envconfig:"NOTIFIER" default:"smtp"`
		MaxAttempts      int    `envconfig:"MAX_ATTEMPTS" default:"0"`
		SendIndividual   bool   `envconfig:"SEND_INDIVIDUAL" default:"true"`
		SendSummary      bool   `envconfig:"SEND_SUMMARY" default:"false"`
		SubjectTemplate  string `envconfig:"SUBJECT_TEMPLATE"`
		RecipientAddress string `envconfig:"RECIPIENT_ADDRESS"`
		RecipientName    string `envconfig:"RECIPIENT_NAME"`
		ProfilesFile     string `envconfig:"PROFILES_FILE"`
	} `envconfig:""`

	SMTP struct {
		Host     string        `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
		Port     int           `envconfig:"SMTP_PORT" default:"587"`
		Username string        `envconfig:"SMTP_USERNAME"`
		Password string        `envconfig:"SMTP_PASSWORD"`
		From     string        `envconfig:"SMTP_FROM"`
		FromName string        `envconfig:"SMTP_FROM_NAME" default:"Monitor de Pasantías UBA"`
		StartTLS bool          `envconfig:"SMTP_STARTTLS" default:"true"`
		Timeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Telegram struct {
		Token      string  `envconfig:"TG_BOT_TOKEN"`
		RatePerSec float64 `envconfig:"TG_RATE_PER_SEC" default:"1"`
	} `envconfig:""`

	AMQP struct {
		URL        string `envconfig:"AMQP_URL"`
		Exchange   string `envconfig:"AMQP_EXCHANGE" default:"pasantias"`
		RoutingKey string `envconfig:"AMQP_ROUTING_KEY" default:"offers.new"`
	} `envconfig:""`

	Redis struct {
		Addr     string        `envconfig:"REDIS_ADDR"`
		Password string        `envconfig:"REDIS_PASSWORD"`
		DB       int           `envconfig:"REDIS_DB" default:"0"`
		LockKey  string        `envconfig:"LOCK_KEY" default:"pasantias:cycle"`
		LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"10m"`
	} `envconfig:""`

	Composer struct {
		Kind     string        `envconfig:"COMPOSER" default:"plain"`
		Fallback string        `envconfig:"COMPOSER_FALLBACK" default:"template"`
		APIKey   string        `envconfig:"OPENAI_API_KEY"`
		BaseURL  string        `envconfig:"OPENAI_BASE_URL"`
		Model    string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout  time.Duration `envconfig:"OPENAI_TIMEOUT" default:"20s"`
	} `envconfig:""`
}

// Load читает .env (если есть) и переменные окружения. Уже заданные переменные .env не перекрывает.
func Load(envFiles ...string) (AppConfig, error) {
	_ = godotenv.Load(envFiles...)

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("не удалось загрузить конфиг: %w", err)
	}
	return cfg, nil
}

// Validate проверяет, что для выбранных хранилища, нотификатора и персонализатора хватает настроек.
func (c AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(c.Store.Driver) {
	case "", "file", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pg":
		if c.Store.PGDSN == "" {
			add("PG_DSN обязателен для STORE_DRIVER=%s", c.Store.Driver)
		}
	default:
		add("неизвестный STORE_DRIVER %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Notify.Backend) {
	case "smtp", "email":
		if c.SMTP.Host == "" {
			add("SMTP_HOST обязателен")
		}
		if c.SMTP.Username != "" && c.SMTP.Password == "" {
			add("SMTP_PASSWORD обязателен вместе с SMTP_USERNAME")
		}
		from := c.SMTP.From
		if from == "" {
			from = c.SMTP.Username
		}
		if from == "" {
			add("нужен SMTP_FROM или SMTP_USERNAME")
		} else if _, err := mail.ParseAddress(from); err != nil {
			add("неверный адрес отправителя %q", from)
		}
	case "telegram":
		if c.Telegram.Token == "" {
			add("TG_BOT_TOKEN обязателен для NOTIFIER=telegram")
		}
	case "amqp", "rabbitmq":
		if c.AMQP.URL == "" {
			add("AMQP_URL обязателен для NOTIFIER=amqp")
		}
	case "log":
	default:
		add("неизвестный NOTIFIER %q", c.Notify.Backend)
	}
	if c.Notify.RecipientAddress == "" && c.Notify.ProfilesFile == "" {
		add("нужен RECIPIENT_ADDRESS или PROFILES_FILE")
	}
	if c.Notify.MaxAttempts < 0 {
		add("MAX_ATTEMPTS не может быть отрицательным")
	}

	switch strings.ToLower(c.Composer.Kind) {
	case "", "plain", "template":
	case "openai":
		if c.Composer.APIKey == "" {
			add("OPENAI_API_KEY обязателен для COMPOSER=openai")
		}
		switch strings.ToLower(c.Composer.Fallback) {
		case "", "plain", "template":
		default:
			add("неизвестный COMPOSER_FALLBACK %q", c.Composer.Fallback)
		}
	default:
		add("неизвестный COMPOSER %q", c.Composer.Kind)
	}

	if c.Cycle.RetryAttempts < 1 {
		add("RETRY_ATTEMPTS должен быть не меньше 1")
	}
	if c.Schedule.Interval < 0 {
		add("CHECK_INTERVAL не может быть отрицательным")
	}
	if c.Schedule.Interval == 0 {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			add("неверный CHECK_CRON %q: %v", c.Schedule.Cron, err)
		}
	}
	return errors.Join(errs...)
}
