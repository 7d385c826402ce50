package domain

import "time"

// SnapshotSchemaVersion: текущая версия формата снимка.
const SnapshotSchemaVersion = 1

// RawOffer: запись об оферте в том виде, в каком её вернул Fetcher.
type RawOffer struct {
	SearchNumber string `json:"search_number"`
	PostingDate  string `json:"posting_date"`
	Department   string `json:"department,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	Stipend      string `json:"stipend,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	DetailURL    string `json:"detail_url,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Offer описывает одну стажировку со стабильным ключом.
type Offer struct {
	Key          string    `json:"key"`
	SearchNumber string    `json:"search_number"`
	PostingDate  time.Time `json:"posting_date"`
	Department   string    `json:"department,omitempty"`
	Schedule     string    `json:"schedule,omitempty"`
	Stipend      string    `json:"stipend,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	DetailURL    string    `json:"detail_url,omitempty"`
	Description  string    `json:"description,omitempty"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	// MissedChecks: сколько проверок подряд оферта отсутствовала в выдаче.
	MissedChecks int `json:"missed_checks,omitempty"`
}

// Snapshot: сохранённое состояние всех известных оферт.
type Snapshot struct {
	SchemaVersion         int              `json:"schema_version"`
	Offers                map[string]Offer `json:"offers"`
	LastSuccessfulCheckAt time.Time        `json:"last_successful_check_at"`
}

// EmptySnapshot возвращает снимок первого запуска.
func EmptySnapshot() Snapshot {
	return Snapshot{SchemaVersion: SnapshotSchemaVersion, Offers: map[string]Offer{}}
}

// IsFirstRun сообщает, что успешных проверок ещё не было.
func (s Snapshot) IsFirstRun() bool {
	return len(s.Offers) == 0 && s.LastSuccessfulCheckAt.IsZero()
}

// DeltaResult: результат сравнения выдачи со снимком.
type DeltaResult struct {
	New               []Offer
	Updated           []Offer
	Unchanged         []Offer
	RemovalCandidates []Offer
	RemovedKeys       []string
	// ContactRevealed: ключи обновлённых оферт, у которых впервые появился email.
	ContactRevealed []string
}

// NotificationEvent: повод для уведомления.
type NotificationEvent string

const (
	// EventNew: оферта увидена впервые.
	EventNew NotificationEvent = "new"
	// EventContactRevealed: у известной оферты появился контактный email.
	EventContactRevealed NotificationEvent = "contact_revealed"
)

// NotificationOutcome: итог попытки доставки.
type NotificationOutcome string

const (
	OutcomeSent   NotificationOutcome = "sent"
	OutcomeFailed NotificationOutcome = "failed"
)

// NotificationChannel показывает, каким текстом ушло уведомление.
type NotificationChannel string

const (
	ChannelPersonalized NotificationChannel = "personalized"
	ChannelPlain        NotificationChannel = "plain"
)

// NotificationRecord: запись журнала попыток доставки.
type NotificationRecord struct {
	Key         string              `json:"key"`
	Event       NotificationEvent   `json:"event"`
	Recipient   string              `json:"recipient"`
	AttemptedAt time.Time           `json:"attempted_at"`
	Outcome     NotificationOutcome `json:"outcome"`
	Channel     NotificationChannel `json:"channel"`
	Error       string              `json:"error,omitempty"`
	CycleID     string              `json:"cycle_id,omitempty"`
}

// Notice: оферта, по которой нужно уведомить.
type Notice struct {
	Offer Offer
	Event NotificationEvent
}

// Profile содержит данные кандидата для персонализации письма.
type Profile struct {
	FullName   string   `yaml:"full_name"`
	Career     string   `yaml:"career"`
	University string   `yaml:"university"`
	Status     string   `yaml:"status"`
	Experience []string `yaml:"experience"`
	Skills     []string `yaml:"skills"`
	Languages  []string `yaml:"languages"`
	Extra      string   `yaml:"extra"`
}

// Recipient: получатель уведомлений. Address зависит от канала:
// email для SMTP, chat id для Telegram, routing key для AMQP.
type Recipient struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name"`
	Address string  `yaml:"address"`
	Profile Profile `yaml:"profile"`
}
