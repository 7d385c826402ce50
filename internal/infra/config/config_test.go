package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECIPIENT_ADDRESS", "ana@example.org")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cfg.Store.Driver != "file" || cfg.Cycle.RetryAttempts != 3 || cfg.Fetch.Timeout != 30*time.Second {
		t.Fatalf("неверные значения по умолчанию: %+v", cfg)
	}
	if cfg.Schedule.Cron != "0 9 * * *" || !cfg.Cycle.BaselineOnFirstRun || cfg.Cycle.NotifyOnContactReveal {
		t.Fatalf("неверное расписание или переключатели: %+v", cfg.Schedule)
	}
	if cfg.Notify.MaxAttempts != 0 {
		t.Fatalf("по умолчанию повторы не должны ограничиваться, получили MAX_ATTEMPTS=%d", cfg.Notify.MaxAttempts)
	}
	if cfg.Notify.RecipientAddress != "ana@example.org" || !cfg.Notify.SendIndividual {
		t.Fatalf("ожидали получателя из окружения: %+v", cfg.Notify)
	}
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NOTIFIER=telegram\nCHECK_INTERVAL=6h\n"), 0o600); err != nil {
		t.Fatalf("не удалось записать .env: %v", err)
	}
	t.Setenv("NOTIFIER", "log")
	t.Setenv("CHECK_INTERVAL", "")
	os.Unsetenv("CHECK_INTERVAL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cfg.Notify.Backend != "log" {
		t.Fatalf(".env не должен перекрывать окружение, получили %q", cfg.Notify.Backend)
	}
	if cfg.Schedule.Interval != 6*time.Hour {
		t.Fatalf("ожидали интервал из .env, получили %v", cfg.Schedule.Interval)
	}
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		var c AppConfig
		c.Store.Driver = "sqlite"
		c.Notify.Backend = "smtp"
		c.Notify.RecipientAddress = "ana@example.org"
		c.SMTP.Host = "smtp.example.org"
		c.SMTP.Username = "monitor@example.org"
		c.SMTP.Password = "secret"
		c.Composer.Kind = "plain"
		c.Cycle.RetryAttempts = 3
		c.Schedule.Cron = "0 9 * * *"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("конфиг должен быть валиден: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"postgres без dsn", func(c *AppConfig) { c.Store.Driver = "postgres" }, "PG_DSN"},
		{"telegram без токена", func(c *AppConfig) { c.Notify.Backend = "telegram" }, "TG_BOT_TOKEN"},
		{"amqp без url", func(c *AppConfig) { c.Notify.Backend = "amqp" }, "AMQP_URL"},
		{"openai без ключа", func(c *AppConfig) { c.Composer.Kind = "openai" }, "OPENAI_API_KEY"},
		{"нет получателей", func(c *AppConfig) { c.Notify.RecipientAddress = "" }, "RECIPIENT_ADDRESS"},
		{"неверный cron", func(c *AppConfig) { c.Schedule.Cron = "каждый день" }, "CHECK_CRON"},
		{"неизвестный нотификатор", func(c *AppConfig) { c.Notify.Backend = "fax" }, "NOTIFIER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("ожидали ошибку про %s, получили %v", tc.want, err)
			}
		})
	}

	c := valid()
	c.Schedule.Cron = "плохой"
	c.Schedule.Interval = time.Hour
	if err := c.Validate(); err != nil {
		t.Fatalf("при заданном интервале cron не проверяется: %v", err)
	}
}
