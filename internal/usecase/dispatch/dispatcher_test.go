package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
)

type sentMessage struct {
	recipient string
	subject   string
	body      string
}

type fakeNotifier struct {
	failFor map[string]bool
	sent    []sentMessage
	calls   int
}

func (f *fakeNotifier) Send(_ context.Context, r domain.Recipient, subject, body string) error {
	f.calls++
	for marker := range f.failFor {
		if strings.Contains(subject, marker) {
			return errors.New("smtp 451")
		}
	}
	f.sent = append(f.sent, sentMessage{recipient: r.Address, subject: subject, body: body})
	return nil
}

type memRecorder struct {
	records []domain.NotificationRecord
	err     error
}

func (m *memRecorder) RecordNotification(_ context.Context, r domain.NotificationRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memRecorder) ListNotifications(context.Context) ([]domain.NotificationRecord, error) {
	return m.records, nil
}

type fakeComposer struct {
	draft string
	err   error
	calls int
}

func (f *fakeComposer) Compose(context.Context, domain.Offer, domain.Profile) (string, error) {
	f.calls++
	return f.draft, f.err
}

var student = domain.Recipient{ID: "ana", Address: "ana@example.com"}

func notice(number string) domain.Notice {
	o, err := domain.Normalize(domain.RawOffer{SearchNumber: number, PostingDate: "2-3-2025", Department: "Estudio " + number}, time.Now())
	if err != nil {
		panic(err)
	}
	return domain.Notice{Offer: o, Event: domain.EventNew}
}

func newTestDispatcher(c domain.Composer, n domain.Notifier, r domain.NotificationRecorder, opts Options) *Dispatcher {
	if opts.Recipients == nil {
		opts.Recipients = []domain.Recipient{student}
	}
	return NewDispatcher(c, n, r, opts, zerolog.Nop())
}

func TestDispatchContinuesAfterPartialFailure(t *testing.T) {
	notifier := &fakeNotifier{failFor: map[string]bool{"#2": true}}
	rec := &memRecorder{}
	d := newTestDispatcher(nil, notifier, rec, Options{SendIndividual: true, MaxAttempts: DefaultMaxAttempts})

	records, err := d.Dispatch(context.Background(), "c1", []domain.Notice{notice("1"), notice("2"), notice("3")}, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 3 || len(rec.records) != 3 {
		t.Fatalf("ожидали 3 записи, получили %d/%d", len(records), len(rec.records))
	}
	want := []domain.NotificationOutcome{domain.OutcomeSent, domain.OutcomeFailed, domain.OutcomeSent}
	for i, w := range want {
		if records[i].Outcome != w {
			t.Fatalf("запись %d: ожидали %s, получили %s", i, w, records[i].Outcome)
		}
		if records[i].CycleID != "c1" || records[i].Recipient != "ana" {
			t.Fatalf("ожидали cycle id и получателя в записи: %+v", records[i])
		}
	}
	if records[1].Error == "" {
		t.Fatalf("ожидали текст ошибки в неудачной записи")
	}
}

func TestDispatchSkipsAlreadySent(t *testing.T) {
	n1 := notice("1")
	prior := []domain.NotificationRecord{
		{Key: n1.Offer.Key, Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeFailed},
		{Key: n1.Offer.Key, Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeSent},
	}
	notifier := &fakeNotifier{}
	d := newTestDispatcher(nil, notifier, &memRecorder{}, Options{SendIndividual: true})

	records, err := d.Dispatch(context.Background(), "c2", []domain.Notice{n1}, prior)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if notifier.calls != 0 || len(records) != 0 {
		t.Fatalf("доставленная оферта не должна отправляться повторно")
	}
}

func TestDispatchRespectsMaxAttempts(t *testing.T) {
	n1 := notice("1")
	var prior []domain.NotificationRecord
	for i := 0; i < 2; i++ {
		prior = append(prior, domain.NotificationRecord{Key: n1.Offer.Key, Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeFailed})
	}
	notifier := &fakeNotifier{}
	d := newTestDispatcher(nil, notifier, &memRecorder{}, Options{SendIndividual: true, MaxAttempts: 2})
	if _, err := d.Dispatch(context.Background(), "c", []domain.Notice{n1}, prior); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if notifier.calls != 0 {
		t.Fatalf("после исчерпания попыток отправки быть не должно")
	}

	unlimited := newTestDispatcher(nil, notifier, &memRecorder{}, Options{SendIndividual: true, MaxAttempts: 0})
	if _, err := unlimited.Dispatch(context.Background(), "c", []domain.Notice{n1}, prior); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("без лимита ожидали повторную отправку")
	}
}

func TestDispatchRetriesManyFailuresByDefault(t *testing.T) {
	n1 := notice("1")
	var prior []domain.NotificationRecord
	for i := 0; i < 7; i++ {
		prior = append(prior, domain.NotificationRecord{Key: n1.Offer.Key, Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeFailed})
	}
	notifier := &fakeNotifier{}
	rec := &memRecorder{}
	d := newTestDispatcher(nil, notifier, rec, Options{SendIndividual: true, MaxAttempts: DefaultMaxAttempts})
	records, err := d.Dispatch(context.Background(), "c", []domain.Notice{n1}, prior)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if notifier.calls != 1 || len(records) != 1 || records[0].Outcome != domain.OutcomeSent {
		t.Fatalf("прошлые неудачи не должны блокировать повтор: calls=%d records=%+v", notifier.calls, records)
	}
}

func TestDispatchComposerFallback(t *testing.T) {
	tests := []struct {
		name     string
		composer *fakeComposer
		channel  domain.NotificationChannel
	}{
		{name: "personalized", composer: &fakeComposer{draft: "Estimados, me interesa la búsqueda."}, channel: domain.ChannelPersonalized},
		{name: "empty draft", composer: &fakeComposer{}, channel: domain.ChannelPlain},
		{name: "composer error", composer: &fakeComposer{err: errors.New("429 rate limit")}, channel: domain.ChannelPlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{}
			d := newTestDispatcher(tt.composer, notifier, &memRecorder{}, Options{SendIndividual: true})
			records, err := d.Dispatch(context.Background(), "c", []domain.Notice{notice("7")}, nil)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if len(records) != 1 || records[0].Outcome != domain.OutcomeSent {
				t.Fatalf("письмо должно уйти при любом исходе персонализации: %+v", records)
			}
			if records[0].Channel != tt.channel {
				t.Fatalf("ожидали канал %s, получили %s", tt.channel, records[0].Channel)
			}
			if !strings.Contains(notifier.sent[0].body, "Búsqueda N° 7") {
				t.Fatalf("в письме должна быть справка по оферте: %q", notifier.sent[0].body)
			}
		})
	}
}

func TestDispatchStopsOnRecordingFailure(t *testing.T) {
	notifier := &fakeNotifier{}
	rec := &memRecorder{err: errors.New("disk full")}
	d := newTestDispatcher(nil, notifier, rec, Options{SendIndividual: true})

	_, err := d.Dispatch(context.Background(), "c", []domain.Notice{notice("1"), notice("2")}, nil)
	var storageErr *domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("ожидали StorageError, получили %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("после сбоя журнала рассылка должна остановиться, отправок: %d", notifier.calls)
	}
}

func TestDispatchPerRecipientIdempotence(t *testing.T) {
	n1 := notice("1")
	bob := domain.Recipient{ID: "bob", Address: "bob@example.com"}
	prior := []domain.NotificationRecord{{Key: n1.Offer.Key, Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeSent}}
	notifier := &fakeNotifier{}
	d := newTestDispatcher(nil, notifier, &memRecorder{}, Options{SendIndividual: true, Recipients: []domain.Recipient{student, bob}})

	records, err := d.Dispatch(context.Background(), "c", []domain.Notice{n1}, prior)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 1 || records[0].Recipient != "bob" {
		t.Fatalf("ожидали отправку только второму получателю: %+v", records)
	}
}

func TestDispatchGroupedRecordsEveryOffer(t *testing.T) {
	notifier := &fakeNotifier{}
	rec := &memRecorder{}
	d := newTestDispatcher(nil, notifier, rec, Options{SendIndividual: false})

	records, err := d.Dispatch(context.Background(), "c", []domain.Notice{notice("1"), notice("2")}, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("ожидали одно сводное письмо, получили %d", notifier.calls)
	}
	if notifier.sent[0].subject != "2 nuevas pasantías UBA disponibles" {
		t.Fatalf("неожиданная тема сводки: %q", notifier.sent[0].subject)
	}
	if len(records) != 2 {
		t.Fatalf("ожидали запись на каждую оферту, получили %d", len(records))
	}
}

func TestDispatchSummaryIsNotRecorded(t *testing.T) {
	notifier := &fakeNotifier{}
	rec := &memRecorder{}
	d := newTestDispatcher(nil, notifier, rec, Options{SendIndividual: true, SendSummary: true})

	if _, err := d.Dispatch(context.Background(), "c", []domain.Notice{notice("1"), notice("2")}, nil); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if notifier.calls != 3 {
		t.Fatalf("ожидали 2 отдельных письма и сводку, получили %d", notifier.calls)
	}
	if len(rec.records) != 2 {
		t.Fatalf("сводка не должна попадать в журнал")
	}
}

func TestPendingRetries(t *testing.T) {
	recipients := []domain.Recipient{student}
	records := []domain.NotificationRecord{
		{Key: "a", Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeFailed},
		{Key: "b", Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeFailed},
		{Key: "b", Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeSent},
		{Key: "c", Event: domain.EventNew, Recipient: "ana", Outcome: domain.OutcomeSent},
	}
	pending := PendingRetries(records, recipients)
	if len(pending) != 1 || len(pending["a"]) != 1 {
		t.Fatalf("ожидали повтор только для a, получили %v", pending)
	}
}

func TestFormatSubject(t *testing.T) {
	n := notice("0123")
	if got := FormatSubject("", n.Offer); got != "Nueva pasantía UBA disponible - Oferta #123" {
		t.Fatalf("неожиданная тема: %q", got)
	}
	if got := FormatSubject("Oferta {numero}!", n.Offer); got != "Oferta 123!" {
		t.Fatalf("неожиданная тема: %q", got)
	}
}

func TestFormatPlainMentionsPendingContact(t *testing.T) {
	n := notice("5")
	body := FormatPlain(n.Offer, domain.EventNew, time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC))
	for _, want := range []string{"NUEVA PASANTÍA UBA", "Búsqueda N° 5", "Se publica 24hs después", SourcePageURL, "02/03/2025 a las 09:30"} {
		if !strings.Contains(body, want) {
			t.Fatalf("ожидали найти %q в %q", want, body)
		}
	}
}
