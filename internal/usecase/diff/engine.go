package diff

import (
	"sort"
	"time"

	"pasantias-monitor/internal/domain"
)

// RemovalThreshold: после стольких проверок подряд без оферты она удаляется из снимка.
const RemovalThreshold = 2

// ComputeDelta сравнивает свежую выдачу с прошлым снимком.
// Пустая выдача возвращает DiffWarning и не трогает снимок.
func ComputeDelta(previous domain.Snapshot, fetched []domain.Offer, at time.Time) (domain.DeltaResult, error) {
	if len(fetched) == 0 {
		return domain.DeltaResult{}, &domain.DiffWarning{Reason: domain.DiffWarningEmptyFetch}
	}
	at = at.UTC()

	var delta domain.DeltaResult
	seen := make(map[string]struct{}, len(fetched))
	for _, offer := range foldDuplicates(fetched) {
		seen[offer.Key] = struct{}{}
		prev, ok := previous.Offers[offer.Key]
		if !ok {
			offer.FirstSeenAt = at
			offer.LastSeenAt = at
			offer.MissedChecks = 0
			delta.New = append(delta.New, offer)
			continue
		}
		merged, changed, revealed := mergeOffer(prev, offer, at)
		switch {
		case changed:
			delta.Updated = append(delta.Updated, merged)
			if revealed {
				delta.ContactRevealed = append(delta.ContactRevealed, merged.Key)
			}
		default:
			delta.Unchanged = append(delta.Unchanged, merged)
		}
	}

	missing := make([]string, 0)
	for key := range previous.Offers {
		if _, ok := seen[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	for _, key := range missing {
		offer := previous.Offers[key]
		offer.MissedChecks++
		if offer.MissedChecks >= RemovalThreshold {
			delta.RemovedKeys = append(delta.RemovedKeys, key)
			continue
		}
		delta.RemovalCandidates = append(delta.RemovalCandidates, offer)
	}
	return delta, nil
}

// Apply строит новый снимок: прошлый ∪ обновления ∪ новые, без удалённых.
func Apply(previous domain.Snapshot, delta domain.DeltaResult, at time.Time) domain.Snapshot {
	next := domain.EmptySnapshot()
	for key, offer := range previous.Offers {
		next.Offers[key] = offer
	}
	for _, group := range [][]domain.Offer{delta.New, delta.Updated, delta.Unchanged, delta.RemovalCandidates} {
		for _, offer := range group {
			next.Offers[offer.Key] = offer
		}
	}
	for _, key := range delta.RemovedKeys {
		delete(next.Offers, key)
	}
	next.LastSuccessfulCheckAt = at.UTC()
	return next
}

// mergeOffer обновляет известную оферту данными свежей выдачи.
// Пустое значение в выдаче не затирает сохранённое.
func mergeOffer(prev, cur domain.Offer, at time.Time) (merged domain.Offer, changed, revealed bool) {
	merged = prev
	merged.LastSeenAt = at
	merged.MissedChecks = 0

	for _, f := range []struct {
		dst *string
		src string
	}{
		{&merged.Stipend, cur.Stipend},
		{&merged.Schedule, cur.Schedule},
		{&merged.Department, cur.Department},
	} {
		if f.src != "" && f.src != *f.dst {
			*f.dst = f.src
			changed = true
		}
	}

	if cur.ContactEmail != "" && cur.ContactEmail != prev.ContactEmail {
		revealed = prev.ContactEmail == ""
		merged.ContactEmail = cur.ContactEmail
		changed = true
	}

	if cur.DetailURL != "" {
		merged.DetailURL = cur.DetailURL
	}
	if cur.Description != "" {
		merged.Description = cur.Description
	}
	return merged, changed, revealed
}

func foldDuplicates(offers []domain.Offer) []domain.Offer {
	index := make(map[string]int, len(offers))
	out := make([]domain.Offer, 0, len(offers))
	for _, offer := range offers {
		idx, ok := index[offer.Key]
		if !ok {
			index[offer.Key] = len(out)
			out = append(out, offer)
			continue
		}
		kept := &out[idx]
		fillEmpty(&kept.Department, offer.Department)
		fillEmpty(&kept.Schedule, offer.Schedule)
		fillEmpty(&kept.Stipend, offer.Stipend)
		fillEmpty(&kept.ContactEmail, offer.ContactEmail)
		fillEmpty(&kept.DetailURL, offer.DetailURL)
		fillEmpty(&kept.Description, offer.Description)
	}
	return out
}

func fillEmpty(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}
