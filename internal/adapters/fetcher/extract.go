package fetcher

import (
	"regexp"
	"strings"

	"pasantias-monitor/internal/domain"
)

var (
	searchNumberRe = regexp.MustCompile(`(?i)B[uú]squeda\s*N\s*[º°o]\.?\s*(\d+)`)
	postingDateRe  = regexp.MustCompile(`(?i)Fecha\s*de\s*publicaci[oó]n:\s*(\d{1,2}[-/]\d{1,2}[-/]\d{4})`)
	scheduleRe     = regexp.MustCompile(`(?is)Horario:\s*([^:]+?)\s*(?:Asignaci[oó]n|$)`)
	stipendRe      = regexp.MustCompile(`(?i)Asignaci[oó]n\s*est[ií]mulo:\s*\$?\s*([\d.,]+)`)
	departmentRe   = regexp.MustCompile(`(?i)[AÁ]rea:\s*([^\n]+)`)
	moreInfoRe     = regexp.MustCompile(`(?i)M[AÁ]S\s*INFORMACI[OÓ]N`)
	contactEmailRe = regexp.MustCompile(`(?i)env[ií]e\s+un\s+mail\s+adjuntando\s+su\s+cv\s+a:\s*([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
	anyEmailRe     = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	fieldTailRe    = regexp.MustCompile(`(?i)\s*(?:Fecha\s*de\s*publicaci[oó]n|Horario:|Asignaci[oó]n|M[AÁ]S\s*INFORMACI[OÓ]N).*$`)
	digitsRe       = regexp.MustCompile(`\d+`)
)

// Служебные адреса факультета, это не контакт работодателя.
var genericEmails = map[string]struct{}{
	"diralumnos@derecho.uba.ar":           {},
	"posgrado@derecho.uba.ar":             {},
	"biblio@derecho.uba.ar":               {},
	"pasantia@derecho.uba.ar":             {},
	"pasantias@derecho.uba.ar":            {},
	"areageneroest@derecho.uba.ar":        {},
	"asuntosestudiantiles@derecho.uba.ar": {},
}

const maxDescriptionRunes = 4000

type link struct {
	text string
	href string
}

// parseListing делит текст страницы на блоки по «Búsqueda Nº» и вытаскивает поля.
func parseListing(text string, links []link) []domain.RawOffer {
	matches := searchNumberRe.FindAllStringSubmatchIndex(text, -1)
	offers := make([]domain.RawOffer, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		block := text[m[0]:end]
		offers = append(offers, domain.RawOffer{
			SearchNumber: text[m[2]:m[3]],
			PostingDate:  firstGroup(postingDateRe, block),
			Schedule:     firstGroup(scheduleRe, block),
			Stipend:      firstGroup(stipendRe, block),
			Department:   strings.TrimSpace(fieldTailRe.ReplaceAllString(firstGroup(departmentRe, block), "")),
			ContactEmail: pickEmail(block),
		})
	}
	attachDetailLinks(offers, links)
	return offers
}

// attachDetailLinks сопоставляет ссылки «MÁS INFORMACIÓN» офертам: по номеру в адресе,
// а если номеров в адресах нет и ссылок столько же, сколько оферт, то по порядку.
func attachDetailLinks(offers []domain.RawOffer, links []link) {
	var detail []string
	for _, l := range links {
		if moreInfoRe.MatchString(l.text) && l.href != "" {
			detail = append(detail, l.href)
		}
	}
	if len(detail) == 0 {
		return
	}
	matched := 0
	for i := range offers {
		for _, href := range detail {
			if containsNumber(href, offers[i].SearchNumber) {
				offers[i].DetailURL = href
				matched++
				break
			}
		}
	}
	if matched == 0 && len(detail) == len(offers) {
		for i := range offers {
			offers[i].DetailURL = detail[i]
		}
	}
}

// parseDetail извлекает контактный email и описание со страницы оферты.
func parseDetail(text string) (email, description string) {
	description = strings.Join(strings.Fields(text), " ")
	if r := []rune(description); len(r) > maxDescriptionRunes {
		description = string(r[:maxDescriptionRunes])
	}
	return pickEmail(text), description
}

func pickEmail(text string) string {
	if m := contactEmailRe.FindStringSubmatch(text); m != nil {
		return strings.ToLower(m[1])
	}
	for _, candidate := range anyEmailRe.FindAllString(text, -1) {
		candidate = strings.ToLower(candidate)
		if _, generic := genericEmails[candidate]; !generic {
			return candidate
		}
	}
	return ""
}

func containsNumber(href, number string) bool {
	if number == "" {
		return false
	}
	for _, m := range digitsRe.FindAllString(href, -1) {
		if strings.TrimLeft(m, "0") == strings.TrimLeft(number, "0") {
			return true
		}
	}
	return false
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
