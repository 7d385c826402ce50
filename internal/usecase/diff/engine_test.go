package diff

import (
	"errors"
	"testing"
	"time"

	"pasantias-monitor/internal/domain"
)

var day0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func offer(number string, mutate ...func(*domain.Offer)) domain.Offer {
	o, err := domain.Normalize(domain.RawOffer{SearchNumber: number, PostingDate: "1-3-2025", Department: "Área " + number}, day0)
	if err != nil {
		panic(err)
	}
	for _, m := range mutate {
		m(&o)
	}
	return o
}

func snapshotOf(at time.Time, offers ...domain.Offer) domain.Snapshot {
	s := domain.EmptySnapshot()
	for _, o := range offers {
		s.Offers[o.Key] = o
	}
	s.LastSuccessfulCheckAt = at
	return s
}

func TestComputeDeltaFirstRunMarksEverythingNew(t *testing.T) {
	fetched := []domain.Offer{offer("3"), offer("1"), offer("2")}
	delta, err := ComputeDelta(domain.EmptySnapshot(), fetched, day0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.New) != 3 {
		t.Fatalf("ожидали 3 новые оферты, получили %d", len(delta.New))
	}
	for i, want := range []string{"3", "1", "2"} {
		if delta.New[i].SearchNumber != want {
			t.Fatalf("ожидали порядок выдачи, позиция %d: %s", i, delta.New[i].SearchNumber)
		}
	}
}

func TestComputeDeltaEmptyFetchWarns(t *testing.T) {
	prev := snapshotOf(day0, offer("1"), offer("2"))
	_, err := ComputeDelta(prev, nil, day0.Add(24*time.Hour))
	var warn *domain.DiffWarning
	if !errors.As(err, &warn) {
		t.Fatalf("ожидали DiffWarning, получили %v", err)
	}
	if warn.Reason != domain.DiffWarningEmptyFetch {
		t.Fatalf("ожидали причину empty_fetch, получили %s", warn.Reason)
	}
	if len(prev.Offers) != 2 {
		t.Fatalf("снимок не должен меняться")
	}
}

func TestComputeDeltaContactEmailIsUpdateNotNew(t *testing.T) {
	prev := snapshotOf(day0, offer("10"))
	day1 := day0.Add(24 * time.Hour)
	fetched := []domain.Offer{offer("10", func(o *domain.Offer) { o.ContactEmail = "rrhh@estudio.com" })}

	delta, err := ComputeDelta(prev, fetched, day1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.New) != 0 {
		t.Fatalf("оферта с появившимся email не должна считаться новой")
	}
	if len(delta.Updated) != 1 || delta.Updated[0].ContactEmail != "rrhh@estudio.com" {
		t.Fatalf("ожидали обновление с email, получили %+v", delta.Updated)
	}
	if !delta.Updated[0].FirstSeenAt.Equal(day0) || !delta.Updated[0].LastSeenAt.Equal(day1) {
		t.Fatalf("ожидали сохранение first_seen_at и обновление last_seen_at")
	}
	if len(delta.ContactRevealed) != 1 || delta.ContactRevealed[0] != fetched[0].Key {
		t.Fatalf("ожидали отметку о появлении email")
	}
}

func TestComputeDeltaKeepsEmailWhenItDisappears(t *testing.T) {
	withEmail := offer("10", func(o *domain.Offer) { o.ContactEmail = "rrhh@estudio.com" })
	prev := snapshotOf(day0, withEmail)
	delta, err := ComputeDelta(prev, []domain.Offer{offer("10")}, day0.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.Unchanged) != 1 || delta.Unchanged[0].ContactEmail != "rrhh@estudio.com" {
		t.Fatalf("ожидали, что email сохранится: %+v", delta)
	}
}

func TestComputeDeltaTrackedFieldChange(t *testing.T) {
	prev := snapshotOf(day0, offer("5", func(o *domain.Offer) { o.Stipend = "300.000" }))
	fetched := []domain.Offer{offer("5", func(o *domain.Offer) { o.Stipend = "350.000" })}
	delta, err := ComputeDelta(prev, fetched, day0.Add(time.Hour))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.Updated) != 1 || delta.Updated[0].Stipend != "350.000" {
		t.Fatalf("ожидали обновление стипендии, получили %+v", delta.Updated)
	}
	if len(delta.ContactRevealed) != 0 {
		t.Fatalf("email не появлялся")
	}
}

func TestRemovalDebounce(t *testing.T) {
	a, b := offer("1"), offer("2")
	snap := snapshotOf(day0, a, b)

	day1 := day0.Add(24 * time.Hour)
	delta, err := ComputeDelta(snap, []domain.Offer{offer("1")}, day1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.RemovedKeys) != 0 || len(delta.RemovalCandidates) != 1 {
		t.Fatalf("после одного пропуска оферта должна быть только кандидатом: %+v", delta)
	}
	snap = Apply(snap, delta, day1)
	if _, ok := snap.Offers[b.Key]; !ok {
		t.Fatalf("кандидат на удаление должен остаться в снимке")
	}

	day2 := day1.Add(24 * time.Hour)
	delta, err = ComputeDelta(snap, []domain.Offer{offer("1"), offer("2")}, day2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.New) != 0 {
		t.Fatalf("вернувшаяся оферта не новая")
	}
	snap = Apply(snap, delta, day2)
	if got := snap.Offers[b.Key]; !got.FirstSeenAt.Equal(day0) || got.MissedChecks != 0 {
		t.Fatalf("ожидали исходный first_seen_at и сброс пропусков, получили %+v", got)
	}

	day3 := day2.Add(24 * time.Hour)
	delta, _ = ComputeDelta(snap, []domain.Offer{offer("1")}, day3)
	snap = Apply(snap, delta, day3)
	day4 := day3.Add(24 * time.Hour)
	delta, _ = ComputeDelta(snap, []domain.Offer{offer("1")}, day4)
	if len(delta.RemovedKeys) != 1 || delta.RemovedKeys[0] != b.Key {
		t.Fatalf("после двух пропусков подряд ожидали удаление, получили %+v", delta)
	}
	snap = Apply(snap, delta, day4)
	if _, ok := snap.Offers[b.Key]; ok {
		t.Fatalf("удалённая оферта должна исчезнуть из снимка")
	}
}

func TestComputeDeltaFoldsDuplicates(t *testing.T) {
	first := offer("8")
	dup := offer("8", func(o *domain.Offer) { o.ContactEmail = "x@y.com" })
	delta, err := ComputeDelta(domain.EmptySnapshot(), []domain.Offer{first, dup}, day0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(delta.New) != 1 {
		t.Fatalf("дубликаты должны схлопываться, получили %d", len(delta.New))
	}
	if delta.New[0].ContactEmail != "x@y.com" {
		t.Fatalf("ожидали заполнение пустых полей из дубликата")
	}
}

func TestApplySetsCheckTime(t *testing.T) {
	prev := snapshotOf(day0, offer("1"))
	at := day0.Add(48 * time.Hour)
	delta, err := ComputeDelta(prev, []domain.Offer{offer("1"), offer("2")}, at)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	next := Apply(prev, delta, at)
	if len(next.Offers) != 2 || !next.LastSuccessfulCheckAt.Equal(at) {
		t.Fatalf("ожидали 2 оферты и время проверки, получили %+v", next)
	}
	if next.SchemaVersion != domain.SnapshotSchemaVersion {
		t.Fatalf("ожидали текущую версию схемы")
	}
	if len(prev.Offers) != 1 {
		t.Fatalf("Apply не должен менять прошлый снимок")
	}
}
