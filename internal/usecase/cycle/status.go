package cycle

import (
	"context"
	"time"

	"pasantias-monitor/internal/domain"
)

// Status собирает сводку для команды status и HTTP эндпоинта.
type Status struct {
	LastCheckAt   time.Time                   `json:"last_check_at,omitempty"`
	SinceLast     time.Duration               `json:"since_last_check,omitempty"`
	Offers        int                         `json:"offers"`
	PendingRemove int                         `json:"pending_removal"`
	State         State                       `json:"state"`
	LastReport    *Report                     `json:"last_report,omitempty"`
	Recent        []domain.NotificationRecord `json:"recent_notifications"`
	Sent          int                         `json:"sent_total"`
	Failed        int                         `json:"failed_total"`
}

// Status собирает состояние из хранилища. lastN ограничивает список последних уведомлений.
func (c *Controller) Status(ctx context.Context, lastN int) (Status, error) {
	snapshot, err := c.store.Load(ctx)
	if err != nil {
		return Status{}, wrapStorage("load", err)
	}
	records, err := c.store.ListNotifications(ctx)
	if err != nil {
		return Status{}, wrapStorage("list_notifications", err)
	}

	st := Status{
		LastCheckAt: snapshot.LastSuccessfulCheckAt,
		Offers:      len(snapshot.Offers),
		State:       c.State(),
	}
	if !snapshot.LastSuccessfulCheckAt.IsZero() {
		st.SinceLast = c.now().Sub(snapshot.LastSuccessfulCheckAt).Round(time.Second)
	}
	for _, offer := range snapshot.Offers {
		if offer.MissedChecks > 0 {
			st.PendingRemove++
		}
	}
	for _, r := range records {
		if r.Outcome == domain.OutcomeSent {
			st.Sent++
		} else {
			st.Failed++
		}
	}
	if lastN > 0 && len(records) > lastN {
		records = records[len(records)-lastN:]
	}
	st.Recent = records
	if report, ok := c.LastReport(); ok {
		st.LastReport = &report
	}
	return st, nil
}
