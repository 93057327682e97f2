package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func securityRequest(t *testing.T, hsts bool) (*httptest.ResponseRecorder, string) {
	t.Helper()

	e := echo.New()
	e.Use(SecurityHeaders(hsts))

	var nonce string
	e.GET("/", func(c echo.Context) error {
		nonce = GetCSPNonce(c)
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec, nonce
}

func TestSecurityHeaders_SetOnResponse(t *testing.T) {
	rec, _ := securityRequest(t, false)

	expected := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"X-XSS-Protection":       "1; mode=block",
	}
	for header, want := range expected {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent when disabled")
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	rec, _ := securityRequest(t, true)

	if got := rec.Header().Get("Strict-Transport-Security"); !strings.Contains(got, "max-age=") {
		t.Errorf("Strict-Transport-Security = %q, want max-age directive", got)
	}
}

func TestSecurityHeaders_CSPCarriesNonce(t *testing.T) {
	rec, nonce := securityRequest(t, false)

	if nonce == "" {
		t.Fatal("handler should see a non-empty CSP nonce")
	}

	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "'nonce-"+nonce+"'") {
		t.Errorf("CSP %q does not carry the request nonce %q", csp, nonce)
	}
	if !strings.Contains(csp, "default-src 'self'") {
		t.Errorf("CSP %q missing default-src directive", csp)
	}
}

func TestSecurityHeaders_NonceUniquePerRequest(t *testing.T) {
	_, first := securityRequest(t, false)
	_, second := securityRequest(t, false)

	if first == second {
		t.Error("CSP nonce must differ between requests")
	}
}
