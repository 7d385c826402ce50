package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// TokenAuthMiddleware пропускает запрос только с заголовком Authorization: Bearer <token>.
// Пустой токен закрывает доступ полностью.
func TokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				WriteError(w, http.StatusForbidden, errors.New("ручной запуск отключён"))
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				WriteError(w, http.StatusUnauthorized, errors.New("нет токена"))
				return
			}
			sum := sha256.Sum256([]byte(got))
			if !hmac.Equal(sum[:], expected[:]) {
				WriteError(w, http.StatusUnauthorized, errors.New("неверный токен"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет значение как JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
