package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/session"
)

// newCSRFServer builds an Echo instance with the CSRF middleware against a
// miniredis-backed session store. Every route just returns 200.
func newCSRFServer(t *testing.T) *echo.Echo {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := session.NewStore(rdb, time.Hour)

	e := echo.New()
	e.Use(CSRF(store, false))

	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/page", ok)
	e.POST("/submit", ok)
	e.POST("/api/things", ok)
	e.DELETE("/things/1", ok)

	// Exposes the session's token so tests can submit it back.
	e.GET("/csrf-page", func(c echo.Context) error {
		return c.String(http.StatusOK, GetCSRFToken(c))
	})

	// Mirror the app's error handling enough to turn AppErrors into codes.
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		c.JSON(apperror.SafeCode(err), map[string]string{"message": apperror.SafeMessage(err)})
	}

	return e
}

// establishSession performs a GET to obtain the session cookie and a valid
// CSRF token for it.
func establishSession(t *testing.T, e *echo.Echo) (*http.Cookie, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("establishing GET returned %d", rec.Code)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "bastion_session" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set on first contact")
	}

	req = httptest.NewRequest(http.MethodGet, "/csrf-page", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	token := rec.Body.String()
	if len(token) != 64 {
		t.Fatalf("CSRF token length = %d, want 64 hex chars", len(token))
	}

	return cookie, token
}

func TestCSRF_GetPassesWithoutToken(t *testing.T) {
	e := newCSRFServer(t)

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET without token: got %d, want 200", rec.Code)
	}
}

func TestCSRF_PostWithoutTokenRejected(t *testing.T) {
	e := newCSRFServer(t)
	cookie, _ := establishSession(t, e)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("POST without token: got %d, want 403", rec.Code)
	}
}

func TestCSRF_PostWithHeaderToken(t *testing.T) {
	e := newCSRFServer(t)
	cookie, token := establishSession(t, e)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.AddCookie(cookie)
	req.Header.Set("X-CSRF-Token", token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("POST with valid header token: got %d, want 200", rec.Code)
	}
}

func TestCSRF_PostWithFormToken(t *testing.T) {
	e := newCSRFServer(t)
	cookie, token := establishSession(t, e)

	form := url.Values{"_csrf": {token}}
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("POST with valid form token: got %d, want 200", rec.Code)
	}
}

func TestCSRF_WrongTokenRejected(t *testing.T) {
	e := newCSRFServer(t)
	cookie, token := establishSession(t, e)

	wrong := strings.Repeat("0", len(token))
	req := httptest.NewRequest(http.MethodDelete, "/things/1", nil)
	req.AddCookie(cookie)
	req.Header.Set("X-CSRF-Token", wrong)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("DELETE with wrong token: got %d, want 403", rec.Code)
	}
}

func TestCSRF_TokenBoundToSession(t *testing.T) {
	e := newCSRFServer(t)
	_, tokenA := establishSession(t, e)
	cookieB, tokenB := establishSession(t, e)

	if tokenA == tokenB {
		t.Fatal("two sessions should not share a CSRF token")
	}

	// Session B presenting session A's token must fail.
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.AddCookie(cookieB)
	req.Header.Set("X-CSRF-Token", tokenA)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("cross-session token: got %d, want 403", rec.Code)
	}
}

func TestCSRF_APIPathBypassed(t *testing.T) {
	e := newCSRFServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/things", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("POST to /api without token: got %d, want 200", rec.Code)
	}
}

func TestCSRF_JSONRequestBypassed(t *testing.T) {
	e := newCSRFServer(t)
	cookie, _ := establishSession(t, e)

	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("JSON POST without token: got %d, want 200", rec.Code)
	}
}

func TestCSRF_SessionCookieHTTPOnly(t *testing.T) {
	e := newCSRFServer(t)

	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.Name == "bastion_session" {
			if !c.HttpOnly {
				t.Error("session cookie must be HttpOnly")
			}
			if c.SameSite != http.SameSiteLaxMode {
				t.Error("session cookie should be SameSite=Lax")
			}
			return
		}
	}
	t.Fatal("session cookie not set")
}
