package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const pageHTML = `<html><body><div class="content">
<h2>Búsqueda Nº 501</h2>
<p>Fecha de publicación: 3-3-2025</p>
<p>Area: Estudio jurídico - Derecho civil</p>
<p>Horario: Lunes a viernes de 9 a 13 hs</p>
<p>Asignación estímulo: $300.000</p>
</div></body></html>`

func setupEnv(t *testing.T, listingURL string) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("NOTIFIER", "log")
	t.Setenv("RECIPIENT_ADDRESS", "ana@example.org")
	t.Setenv("LISTING_URL", listingURL)
	t.Setenv("FETCH_DETAILS", "false")
	t.Setenv("RETRY_ATTEMPTS", "1")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("HTTP_ADDR", "")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckOnceThenStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, pageHTML)
	}))
	defer srv.Close()
	setupEnv(t, srv.URL)

	out, err := runCLI(t, "check-once")
	if err != nil {
		t.Fatalf("check-once завершился ошибкой: %v", err)
	}
	if !strings.Contains(out, "Primera ejecución") || !strings.Contains(out, "Ofertas seguidas: 1") {
		t.Fatalf("ожидали базовый первый запуск, вывод: %s", out)
	}

	out, err = runCLI(t, "status", "--last", "5")
	if err != nil {
		t.Fatalf("status завершился ошибкой: %v", err)
	}
	if !strings.Contains(out, "Ofertas seguidas: 1") || !strings.Contains(out, "Configuración: OK") {
		t.Fatalf("неожиданный вывод status: %s", out)
	}
}

func TestCheckOnceEmptyPageExitsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><div class=\"content\">Sin ofertas</div></body></html>")
	}))
	defer srv.Close()
	setupEnv(t, srv.URL)

	out, err := runCLI(t, "check-once")
	if err != nil {
		t.Fatalf("пустая выдача не должна давать ошибку: %v", err)
	}
	if !strings.Contains(out, "Verificación omitida") {
		t.Fatalf("ожидали сообщение о пропуске, вывод: %s", out)
	}
}

func TestCheckOnceFetchFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "caído", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	setupEnv(t, srv.URL)

	if _, err := runCLI(t, "check-once"); err == nil {
		t.Fatalf("ожидали ошибку при недоступной странице")
	}
}

func TestTestNotifyWithLogNotifier(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	out, err := runCLI(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify завершился ошибкой: %v", err)
	}
	if !strings.Contains(out, "sent") || !strings.Contains(out, "ana@example.org") {
		t.Fatalf("ожидали отчёт о доставке, вывод: %s", out)
	}
}

func TestCheckOnceRejectsInvalidConfig(t *testing.T) {
	setupEnv(t, "http://127.0.0.1:1")
	t.Setenv("NOTIFIER", "fax")
	if _, err := runCLI(t, "check-once"); err == nil || !strings.Contains(err.Error(), "NOTIFIER") {
		t.Fatalf("ожидали ошибку конфигурации, получили %v", err)
	}
}
