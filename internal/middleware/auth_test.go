package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaffAuth_WithValidCookie(t *testing.T) {
	m := NewStaffAuth("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		login, ok := GetStaffLoginFromContext(r.Context())
		if !ok {
			t.Fatalf("staff login not in context")
		}
		if login != "manager" {
			t.Fatalf("staff login from context = %q, want manager", login)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, "manager")
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestStaffAuth_WithoutCookie(t *testing.T) {
	m := NewStaffAuth("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestStaffAuth_TamperedCookie(t *testing.T) {
	m := NewStaffAuth("test-secret")

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, "manager")
	cookie := w.Result().Cookies()[0]
	cookie.Value = "admin." + cookie.Value[len("manager."):]

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)

	rec := httptest.NewRecorder()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	}))
	handler.ServeHTTP(rec, r)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("tampered cookie must be rejected")
	}
}
