package notifier

import (
	"context"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
)

// Log только пишет уведомления в журнал. Годится для пробного запуска.
type Log struct {
	log zerolog.Logger
}

var _ domain.Notifier = (*Log)(nil)

// NewLog создаёт журналирующий нотификатор.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger.With().Str("component", "notifier").Logger()}
}

// Send всегда успешен.
func (l *Log) Send(_ context.Context, recipient domain.Recipient, subject, body string) error {
	l.log.Info().
		Str("recipient", recipient.Address).
		Str("subject", subject).
		Int("body_len", len(body)).
		Msg("notifier: уведомление (dry-run)")
	l.log.Debug().Msg(body)
	return nil
}
