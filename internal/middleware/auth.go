// Package middleware содержит HTTP middleware для сервиса seomarket.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const staffLoginKey contextKey = "staffLogin"

const (
	staffCookieName = "staff_token"
	staffCookieTTL  = 12 * time.Hour
)

// StaffAuth выполняет проверку аутентификации сотрудника по подписанному cookie.
// Административные маршруты (смена статусов, загрузка результатов) доступны
// только после входа.
type StaffAuth struct {
	secretKey []byte
}

// NewStaffAuth создаёт новый экземпляр StaffAuth с указанным секретным ключом.
func NewStaffAuth(secret string) *StaffAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &StaffAuth{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет логин сотрудника в контекст запроса.
func (a *StaffAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(staffCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		login, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), staffLoginKey, login)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного логина сотрудника.
func (a *StaffAuth) SetAuthCookie(w http.ResponseWriter, login string) {
	cookie := &http.Cookie{
		Name:     staffCookieName,
		Value:    a.signLogin(login),
		Path:     "/",
		Expires:  time.Now().Add(staffCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *StaffAuth) signLogin(login string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(login))
	signature := mac.Sum(nil)
	return login + "." + hex.EncodeToString(signature)
}

func (a *StaffAuth) parseCookie(cookieValue string) (string, bool) {
	login, signature, found := strings.Cut(cookieValue, ".")
	if !found || login == "" {
		return "", false
	}

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(login))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}

	return login, true
}

// GetStaffLoginFromContext извлекает логин сотрудника из контекста запроса.
func GetStaffLoginFromContext(ctx context.Context) (string, bool) {
	login, ok := ctx.Value(staffLoginKey).(string)
	return login, ok
}
