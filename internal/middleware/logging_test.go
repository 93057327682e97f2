package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/apperror"
)

// captureLog routes slog output to a buffer for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func loggedRequest(t *testing.T, handler echo.HandlerFunc) (*httptest.ResponseRecorder, *bytes.Buffer) {
	t.Helper()

	buf := captureLog(t)

	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/thing", handler)

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec, buf
}

func TestRequestLogger_AssignsRequestID(t *testing.T) {
	rec, buf := loggedRequest(t, func(c echo.Context) error {
		if GetRequestID(c) == "" {
			t.Error("handler should see a non-empty request id")
		}
		return c.String(http.StatusOK, "ok")
	})

	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("response should echo the request id")
	}
	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("log %q should carry status 200", buf.String())
	}
}

func TestRequestLogger_HonorsUpstreamRequestID(t *testing.T) {
	captureLog(t)

	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/thing", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/thing", nil)
	req.Header.Set(echo.HeaderXRequestID, "upstream-id-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderXRequestID); got != "upstream-id-123" {
		t.Errorf("request id = %q, want the upstream value", got)
	}
}

func TestRequestLogger_StatusFromAppError(t *testing.T) {
	// The error handler runs after this middleware unwinds, so the logged
	// status must come from the returned error, not the response.
	_, buf := loggedRequest(t, func(c echo.Context) error {
		return apperror.NewNotFound("thing not found")
	})

	if !strings.Contains(buf.String(), "status=404") {
		t.Errorf("log %q should carry the error's status 404", buf.String())
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("log %q should be at warn level for a 4xx", buf.String())
	}
}

func TestRequestLogger_StatusFromEchoError(t *testing.T) {
	_, buf := loggedRequest(t, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})

	if !strings.Contains(buf.String(), "status=418") {
		t.Errorf("log %q should carry the echo error's status", buf.String())
	}
}

func TestRequestLogger_UnknownErrorLogsServerError(t *testing.T) {
	_, buf := loggedRequest(t, func(c echo.Context) error {
		return errTestBoom
	})

	if !strings.Contains(buf.String(), "status=500") {
		t.Errorf("log %q should carry status 500 for an unclassified error", buf.String())
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("log %q should be at error level for a 5xx", buf.String())
	}
}

var errTestBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }
