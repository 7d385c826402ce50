package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
)

// DefaultMaxAttempts: по умолчанию повторы не ограничены, пока нет успешной доставки.
const DefaultMaxAttempts = 0

// Options настраивает рассылку.
type Options struct {
	Recipients      []domain.Recipient
	SubjectTemplate string
	// MaxAttempts ограничивает число неудачных попыток, при 0 ограничения нет.
	MaxAttempts int
	// SendIndividual: отдельное письмо на каждую оферту. Иначе одно сводное письмо,
	// и оно же считается доставкой каждой оферты пачки.
	SendIndividual bool
	// SendSummary: дополнительно к отдельным письмам отправить сводку. Сводка не журналируется.
	SendSummary bool
}

// Dispatcher рассылает уведомления и ведёт журнал попыток.
type Dispatcher struct {
	composer domain.Composer
	notifier domain.Notifier
	recorder domain.NotificationRecorder
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// NewDispatcher создаёт диспетчер. composer может быть nil: тогда письма без персонализации.
func NewDispatcher(composer domain.Composer, notifier domain.Notifier, recorder domain.NotificationRecorder, opts Options, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		composer: composer,
		notifier: notifier,
		recorder: recorder,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Recipients возвращает настроенных получателей.
func (d *Dispatcher) Recipients() []domain.Recipient {
	return d.opts.Recipients
}

// Dispatch отправляет уведомления по пачке. Уже доставленные пары пропускаются,
// каждая попытка сохраняется в журнал до перехода к следующей.
// Ошибка возвращается только при сбое записи журнала.
func (d *Dispatcher) Dispatch(ctx context.Context, cycleID string, batch []domain.Notice, prior []domain.NotificationRecord) ([]domain.NotificationRecord, error) {
	history := newLedger(prior)
	var produced []domain.NotificationRecord

	for _, recipient := range d.opts.Recipients {
		pending := make([]domain.Notice, 0, len(batch))
		for _, notice := range batch {
			if d.shouldSkip(history, notice, recipient) {
				continue
			}
			pending = append(pending, notice)
		}
		if len(pending) == 0 {
			continue
		}

		if !d.opts.SendIndividual {
			records, err := d.sendGrouped(ctx, cycleID, recipient, pending)
			produced = append(produced, records...)
			if err != nil {
				return produced, err
			}
			continue
		}

		for _, notice := range pending {
			if err := ctx.Err(); err != nil {
				return produced, err
			}
			record, err := d.sendOne(ctx, cycleID, recipient, notice)
			produced = append(produced, record)
			if err != nil {
				return produced, err
			}
		}

		if d.opts.SendSummary && len(pending) > 1 {
			d.sendSummary(ctx, recipient, pending)
		}
	}
	return produced, nil
}

func (d *Dispatcher) shouldSkip(history ledger, notice domain.Notice, recipient domain.Recipient) bool {
	id := RecipientID(recipient)
	entry := history[ledgerKey{notice.Offer.Key, notice.Event, id}]
	if entry.sent {
		d.logger.Debug().Str("key", notice.Offer.Key).Str("recipient", id).Msg("dispatch: уже доставлено, пропускаем")
		return true
	}
	if d.opts.MaxAttempts > 0 && entry.failed >= d.opts.MaxAttempts {
		d.logger.Warn().Str("key", notice.Offer.Key).Str("recipient", id).Int("attempts", entry.failed).
			Msg("dispatch: исчерпан лимит попыток, пропускаем")
		return true
	}
	return false
}

func (d *Dispatcher) sendOne(ctx context.Context, cycleID string, recipient domain.Recipient, notice domain.Notice) (domain.NotificationRecord, error) {
	now := d.now()
	body, channel := d.compose(ctx, notice, recipient, now)
	subject := FormatSubject(d.opts.SubjectTemplate, notice.Offer)

	sendErr := d.notifier.Send(ctx, recipient, subject, body)
	record := d.record(cycleID, notice, recipient, channel, now, sendErr)
	if err := d.persist(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

func (d *Dispatcher) sendGrouped(ctx context.Context, cycleID string, recipient domain.Recipient, pending []domain.Notice) ([]domain.NotificationRecord, error) {
	now := d.now()
	offers := make([]domain.Offer, 0, len(pending))
	for _, notice := range pending {
		offers = append(offers, notice.Offer)
	}
	subject := FormatSummarySubject(len(offers))
	if len(offers) == 1 {
		subject = FormatSubject(d.opts.SubjectTemplate, offers[0])
	}
	sendErr := d.notifier.Send(ctx, recipient, subject, FormatSummary(offers, now))

	records := make([]domain.NotificationRecord, 0, len(pending))
	for _, notice := range pending {
		record := d.record(cycleID, notice, recipient, domain.ChannelPlain, now, sendErr)
		records = append(records, record)
		if err := d.persist(ctx, record); err != nil {
			return records, err
		}
	}
	return records, nil
}

func (d *Dispatcher) sendSummary(ctx context.Context, recipient domain.Recipient, pending []domain.Notice) {
	offers := make([]domain.Offer, 0, len(pending))
	for _, notice := range pending {
		offers = append(offers, notice.Offer)
	}
	now := d.now()
	if err := d.notifier.Send(ctx, recipient, FormatSummarySubject(len(offers)), FormatSummary(offers, now)); err != nil {
		d.logger.Warn().Err(err).Str("recipient", RecipientID(recipient)).Msg("dispatch: сводка не отправлена")
	}
}

// compose возвращает текст письма и канал. Сбой персонализации не мешает доставке.
func (d *Dispatcher) compose(ctx context.Context, notice domain.Notice, recipient domain.Recipient, now time.Time) (string, domain.NotificationChannel) {
	if d.composer == nil || notice.Event != domain.EventNew {
		return FormatPlain(notice.Offer, notice.Event, now), domain.ChannelPlain
	}
	draft, err := d.composer.Compose(ctx, notice.Offer, recipient.Profile)
	if err != nil {
		var compErr *domain.CompositionError
		if !errors.As(err, &compErr) {
			err = &domain.CompositionError{Err: err}
		}
		d.logger.Warn().Err(err).Str("key", notice.Offer.Key).Msg("dispatch: персонализация не удалась, отправляем обычное письмо")
		return FormatPlain(notice.Offer, notice.Event, now), domain.ChannelPlain
	}
	if draft == "" {
		return FormatPlain(notice.Offer, notice.Event, now), domain.ChannelPlain
	}
	return ComposedBody(draft, notice.Offer, now), domain.ChannelPersonalized
}

func (d *Dispatcher) record(cycleID string, notice domain.Notice, recipient domain.Recipient, channel domain.NotificationChannel, at time.Time, sendErr error) domain.NotificationRecord {
	id := RecipientID(recipient)
	record := domain.NotificationRecord{
		Key:         notice.Offer.Key,
		Event:       notice.Event,
		Recipient:   id,
		AttemptedAt: at,
		Outcome:     domain.OutcomeSent,
		Channel:     channel,
		CycleID:     cycleID,
	}
	if sendErr != nil {
		delivery := &domain.DeliveryError{Key: notice.Offer.Key, Recipient: id, Err: sendErr}
		record.Outcome = domain.OutcomeFailed
		record.Error = delivery.Error()
		d.logger.Error().Err(delivery).Msg("dispatch: уведомление не доставлено")
	} else {
		d.logger.Info().Str("key", notice.Offer.Key).Str("recipient", id).Str("channel", string(channel)).
			Msg("dispatch: уведомление отправлено")
	}
	metrics.ObserveNotification(string(record.Outcome), string(channel))
	return record
}

func (d *Dispatcher) persist(ctx context.Context, record domain.NotificationRecord) error {
	if err := d.recorder.RecordNotification(ctx, record); err != nil {
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		return &domain.StorageError{Op: "record_notification", Err: fmt.Errorf("%s: %w", record.Key, err)}
	}
	return nil
}

// RecipientID возвращает идентификатор получателя для журнала.
func RecipientID(r domain.Recipient) string {
	if r.ID != "" {
		return r.ID
	}
	return r.Address
}

type ledgerKey struct {
	key       string
	event     domain.NotificationEvent
	recipient string
}

type ledgerEntry struct {
	sent   bool
	failed int
}

type ledger map[ledgerKey]ledgerEntry

func newLedger(records []domain.NotificationRecord) ledger {
	out := make(ledger, len(records))
	for _, r := range records {
		k := ledgerKey{r.Key, r.Event, r.Recipient}
		entry := out[k]
		switch r.Outcome {
		case domain.OutcomeSent:
			entry.sent = true
		case domain.OutcomeFailed:
			entry.failed++
		}
		out[k] = entry
	}
	return out
}

// PendingRetries возвращает события, по которым была неудачная попытка и нет успешной
// хотя бы для одного получателя.
func PendingRetries(records []domain.NotificationRecord, recipients []domain.Recipient) map[string][]domain.NotificationEvent {
	history := newLedger(records)
	out := make(map[string][]domain.NotificationEvent)
	seen := make(map[ledgerKey]struct{})
	for _, r := range records {
		if r.Outcome != domain.OutcomeFailed {
			continue
		}
		pair := ledgerKey{key: r.Key, event: r.Event}
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		for _, recipient := range recipients {
			if !history[ledgerKey{r.Key, r.Event, RecipientID(recipient)}].sent {
				out[r.Key] = append(out[r.Key], r.Event)
				break
			}
		}
	}
	return out
}
