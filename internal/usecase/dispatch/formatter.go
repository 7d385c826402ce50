package dispatch

import (
	"fmt"
	"strings"
	"time"

	"pasantias-monitor/internal/domain"
)

const (
	// SourcePageURL: страница с офертами, указывается в подвале письма.
	SourcePageURL = "https://www.derecho.uba.ar/academica/asuntos_estudiantiles/pasantias/ofertas.php"

	// DefaultSubjectTemplate: тема письма об одной оферте, {numero} заменяется номером поиска.
	DefaultSubjectTemplate = "Nueva pasantía UBA disponible - Oferta #{numero}"

	separator = "=================================================="
)

// FormatSubject подставляет номер поиска в шаблон темы.
func FormatSubject(template string, offer domain.Offer) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultSubjectTemplate
	}
	return strings.ReplaceAll(template, "{numero}", offer.SearchNumber)
}

// FormatSummarySubject формирует тему сводного письма.
func FormatSummarySubject(count int) string {
	if count == 1 {
		return "1 nueva pasantía UBA disponible"
	}
	return fmt.Sprintf("%d nuevas pasantías UBA disponibles", count)
}

// FormatPlain формирует текст письма без персонализации.
func FormatPlain(offer domain.Offer, event domain.NotificationEvent, now time.Time) string {
	var b strings.Builder
	if event == domain.EventContactRevealed {
		b.WriteString("📧 SE PUBLICÓ EL CONTACTO DE UNA PASANTÍA UBA\n")
	} else {
		b.WriteString("🎓 NUEVA PASANTÍA UBA DETECTADA\n")
	}
	b.WriteString("Facultad de Derecho - Universidad de Buenos Aires\n\n")
	b.WriteString(separator + "\n")
	writeOffer(&b, offer)
	writeFooter(&b, now)
	return strings.TrimSpace(b.String())
}

// FormatSummary формирует сводное письмо по всем офертам пачки.
func FormatSummary(offers []domain.Offer, now time.Time) string {
	var b strings.Builder
	b.WriteString("🎓 NUEVAS PASANTÍAS UBA DETECTADAS\n")
	b.WriteString("Facultad de Derecho - Universidad de Buenos Aires\n\n")
	b.WriteString(separator + "\n")
	for i, offer := range offers {
		fmt.Fprintf(&b, "\nOFERTA %d:", i+1)
		writeOffer(&b, offer)
	}
	writeFooter(&b, now)
	return strings.TrimSpace(b.String())
}

// ComposedBody дополняет персонализированный черновик справкой по оферте.
func ComposedBody(draft string, offer domain.Offer, now time.Time) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(draft))
	b.WriteString("\n\n" + separator + "\n")
	writeOffer(&b, offer)
	writeFooter(&b, now)
	return strings.TrimSpace(b.String())
}

func writeOffer(b *strings.Builder, offer domain.Offer) {
	fmt.Fprintf(b, "\nBúsqueda N° %s\n", offer.SearchNumber)
	b.WriteString("------------------------------\n")
	fmt.Fprintf(b, "📅 Fecha: %s\n", orDefault(formatDate(offer.PostingDate), "No especificada"))
	fmt.Fprintf(b, "🏢 Área: %s\n", orDefault(offer.Department, "No especificada"))
	fmt.Fprintf(b, "🕐 Horario: %s\n", orDefault(offer.Schedule, "No especificado"))
	if offer.Stipend != "" {
		fmt.Fprintf(b, "💰 Asignación: $%s\n", offer.Stipend)
	} else {
		b.WriteString("💰 Asignación: No especificada\n")
	}
	if offer.ContactEmail != "" {
		fmt.Fprintf(b, "📧 Email: %s\n", offer.ContactEmail)
	} else {
		b.WriteString("⏰ Email de contacto: Se publica 24hs después de la oferta\n")
	}
	if offer.DetailURL != "" {
		fmt.Fprintf(b, "🔗 Más info: %s\n", offer.DetailURL)
	}
}

func writeFooter(b *strings.Builder, now time.Time) {
	b.WriteString("\n" + separator + "\n")
	fmt.Fprintf(b, "🔗 Página original: %s\n", SourcePageURL)
	fmt.Fprintf(b, "📊 Email generado automáticamente el %s\n\n", now.Format("02/01/2006 a las 15:04"))
	b.WriteString("⚠️ IMPORTANTE: La oficina de Pasantías no recepciona los CV ni forma parte del proceso de selección. ")
	b.WriteString("Envía tu CV directamente al email de contacto de cada oferta.\n")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
