package composer

import (
	"context"
	"fmt"
	"strings"

	"pasantias-monitor/internal/domain"
)

// Template собирает письмо-отклик по шаблону из профиля, без LLM.
type Template struct{}

var _ domain.Composer = Template{}

// NewTemplate создаёт шаблонный персонализатор.
func NewTemplate() Template { return Template{} }

// Compose возвращает пустую строку, если в профиле нет ни имени, ни учёбы.
func (Template) Compose(_ context.Context, offer domain.Offer, profile domain.Profile) (string, error) {
	if isEmptyProfile(profile) {
		return "", nil
	}
	area := offer.Department
	if area == "" {
		area = "la organización"
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("Me dirijo a ustedes con el fin de postularme para la Búsqueda N° %s en %s.", offer.SearchNumber, area))

	if profile.Career != "" {
		intro := "Soy estudiante de " + profile.Career
		if profile.University != "" {
			intro += " en " + profile.University
		}
		if profile.Status != "" {
			intro += " (" + profile.Status + ")"
		}
		parts = append(parts, intro+".")
	}
	if exp := firstN(profile.Experience, 2); len(exp) > 0 {
		parts = append(parts, "Cuento con experiencia como "+strings.Join(exp, " y como ")+".")
	}
	if skills := firstN(profile.Skills, 4); len(skills) > 0 {
		parts = append(parts, "Entre mis habilidades se destacan: "+strings.Join(skills, ", ")+".")
	}
	if len(profile.Languages) > 0 {
		parts = append(parts, "Idiomas: "+strings.Join(profile.Languages, ", ")+".")
	}

	availability := "flexible"
	if offer.Schedule != "" {
		availability = strings.ToLower(offer.Schedule)
	}
	parts = append(parts, fmt.Sprintf("Tengo disponibilidad horaria %s y gran interés en contribuir al equipo.", availability))
	parts = append(parts, "Quedo a disposición para ampliar cualquier información que consideren necesaria.")
	return strings.Join(parts, "\n\n"), nil
}

// Plain ничего не персонализирует: письмо уходит обычным текстом.
type Plain struct{}

var _ domain.Composer = Plain{}

// Compose всегда возвращает пустой черновик.
func (Plain) Compose(context.Context, domain.Offer, domain.Profile) (string, error) { return "", nil }

// Fallback пробует основной персонализатор и при ошибке переходит к запасному.
type Fallback struct {
	Primary   domain.Composer
	Secondary domain.Composer
}

var _ domain.Composer = Fallback{}

// Compose возвращает ошибку основного, только если запасной тоже не справился.
func (f Fallback) Compose(ctx context.Context, offer domain.Offer, profile domain.Profile) (string, error) {
	draft, err := f.Primary.Compose(ctx, offer, profile)
	if err == nil && draft != "" {
		return draft, nil
	}
	if f.Secondary == nil {
		return draft, err
	}
	backup, backupErr := f.Secondary.Compose(ctx, offer, profile)
	if backupErr != nil {
		if err != nil {
			return "", err
		}
		return "", backupErr
	}
	return backup, nil
}
