package notifier

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsLimit(t *testing.T) {
	text := strings.Repeat("a", 3000) + "\n\n" + strings.Repeat("b", 2000) + "\n" + strings.Repeat("c", 500)

	parts := splitMessage(text, telegramMessageLimit)
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if n := len([]rune(part)); n > telegramMessageLimit {
			t.Fatalf("часть %d превышает лимит: %d", i, n)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("неожиданное содержимое первой части")
	}
	if !strings.HasPrefix(parts[1], "b") || !strings.HasSuffix(parts[1], strings.Repeat("c", 500)) {
		t.Fatalf("вторая часть должна начинаться с b и заканчиваться блоком c")
	}
}

func TestSplitMessageNoNewlines(t *testing.T) {
	parts := splitMessage(strings.Repeat("ñ", 25), 10)
	if len(parts) != 3 || parts[2] != strings.Repeat("ñ", 5) {
		t.Fatalf("ожидали резку по рунам, получили %q", parts)
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	if parts := splitMessage("   \n  ", telegramMessageLimit); len(parts) != 0 {
		t.Fatalf("для пустого текста частей быть не должно, получили %d", len(parts))
	}
}
