package domain

import (
	"strings"
	"time"
)

var postingDateLayouts = []string{"2-1-2006", "2/1/2006", "2006-01-02"}

// ComputeIdentityKey строит ключ оферты из номера поиска и даты публикации.
// Email и прочие поля, появляющиеся позже, в ключ не входят.
func ComputeIdentityKey(raw RawOffer) (string, error) {
	number, err := normalizeSearchNumber(raw.SearchNumber)
	if err != nil {
		return "", err
	}
	date, err := parsePostingDate(raw.PostingDate)
	if err != nil {
		return "", err
	}
	return identityKey(number, date), nil
}

// Normalize приводит сырую запись к канонической оферте.
func Normalize(raw RawOffer, seenAt time.Time) (Offer, error) {
	number, err := normalizeSearchNumber(raw.SearchNumber)
	if err != nil {
		return Offer{}, err
	}
	date, err := parsePostingDate(raw.PostingDate)
	if err != nil {
		return Offer{}, err
	}
	seenAt = seenAt.UTC()
	return Offer{
		Key:          identityKey(number, date),
		SearchNumber: number,
		PostingDate:  date,
		Department:   cleanField(raw.Department),
		Schedule:     cleanField(raw.Schedule),
		Stipend:      cleanField(raw.Stipend),
		ContactEmail: strings.ToLower(cleanField(raw.ContactEmail)),
		DetailURL:    strings.TrimSpace(raw.DetailURL),
		Description:  cleanField(raw.Description),
		FirstSeenAt:  seenAt,
		LastSeenAt:   seenAt,
	}, nil
}

func identityKey(number string, date time.Time) string {
	return "busqueda-" + number + "-" + date.Format("2006-01-02")
}

func normalizeSearchNumber(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", &ValidationError{Field: "search_number"}
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "search_number", Value: raw}
		}
	}
	value = strings.TrimLeft(value, "0")
	if value == "" {
		value = "0"
	}
	return value, nil
}

func parsePostingDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, &ValidationError{Field: "posting_date"}
	}
	for _, layout := range postingDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "posting_date", Value: raw}
}

func cleanField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
