package composer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pasantias-monitor/internal/domain"
	openai "pasantias-monitor/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

const systemPrompt = `Eres un experto en redacción profesional de emails de postulación a pasantías.
Redacta el cuerpo de un email personalizado para postularse a la oferta indicada.
- Sé profesional pero cercano.
- Destaca la experiencia y las habilidades del candidato relevantes para el área.
- Máximo 200 palabras.
- No incluyas saludo ni despedida, solo el cuerpo del mensaje.
- No inventes datos que no estén en el perfil.`

// OpenAI готовит письмо-отклик через Chat Completions.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.Composer = (*OpenAI)(nil)

// NewOpenAI создаёт персонализатор.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

// Compose возвращает черновик письма. Пустой профиль означает, что персонализировать нечем.
func (s *OpenAI) Compose(ctx context.Context, offer domain.Offer, profile domain.Profile) (string, error) {
	if isEmptyProfile(profile) {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.7,
		MaxTokens:   500,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt},
			{Role: openai.RoleUser, Content: buildPrompt(offer, profile)},
		},
	}
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &domain.CompositionError{Err: fmt.Errorf("openai completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.CompositionError{Err: fmt.Errorf("openai completion: пустой ответ")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildPrompt(offer domain.Offer, profile domain.Profile) string {
	var b strings.Builder
	b.WriteString("INFORMACIÓN DEL CANDIDATO:\n")
	writeLine(&b, "Nombre", profile.FullName)
	education := strings.TrimSpace(strings.Join(nonEmpty(profile.Career, profile.Status), " - "))
	if profile.University != "" {
		education = strings.TrimSpace(education + " en " + profile.University)
	}
	writeLine(&b, "Formación", education)
	if len(profile.Experience) > 0 {
		b.WriteString("- Experiencia:\n")
		for _, exp := range firstN(profile.Experience, 3) {
			b.WriteString("  * " + exp + "\n")
		}
	}
	writeLine(&b, "Habilidades", strings.Join(firstN(profile.Skills, 5), ", "))
	writeLine(&b, "Idiomas", strings.Join(profile.Languages, ", "))
	writeLine(&b, "Otros datos", profile.Extra)

	b.WriteString("\nOFERTA:\n")
	writeLine(&b, "Búsqueda N°", offer.SearchNumber)
	writeLine(&b, "Área/Empresa", offer.Department)
	writeLine(&b, "Horario", offer.Schedule)
	if offer.Stipend != "" {
		writeLine(&b, "Asignación", "$"+offer.Stipend)
	}
	writeLine(&b, "Descripción", clipRunes(offer.Description, 1500))
	return b.String()
}

func writeLine(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString("- " + label + ": " + value + "\n")
}

func isEmptyProfile(p domain.Profile) bool {
	return p.FullName == "" && p.Career == "" && len(p.Experience) == 0 && len(p.Skills) == 0
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

func firstN(values []string, n int) []string {
	values = nonEmpty(values...)
	if len(values) > n {
		return values[:n]
	}
	return values
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
