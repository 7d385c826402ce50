package domain

import "context"

// Fetcher выгружает текущую страницу оферт.
type Fetcher interface {
	Fetch(ctx context.Context) ([]RawOffer, error)
}

// Composer готовит персональный текст письма-отклика для получателя.
// Пустая строка без ошибки означает, что персонализации нет.
type Composer interface {
	Compose(ctx context.Context, offer Offer, profile Profile) (string, error)
}

// Notifier доставляет сообщение получателю.
type Notifier interface {
	Send(ctx context.Context, recipient Recipient, subject, body string) error
}

// NotificationRecorder сохраняет журнал попыток доставки.
type NotificationRecorder interface {
	// RecordNotification дописывает запись; к моменту возврата она должна быть надёжно сохранена.
	RecordNotification(ctx context.Context, record NotificationRecord) error
	ListNotifications(ctx context.Context) ([]NotificationRecord, error)
}

// SnapshotStore хранит последний снимок и журнал уведомлений.
type SnapshotStore interface {
	NotificationRecorder
	// Load возвращает пустой снимок, если сохранённого ещё нет.
	Load(ctx context.Context) (Snapshot, error)
	// Save атомарно заменяет снимок: либо виден новый целиком, либо старый.
	Save(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// CycleLock не даёт запустить две проверки одновременно.
type CycleLock interface {
	// TryAcquire возвращает false без ошибки, если блокировка уже занята.
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}
