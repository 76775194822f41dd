package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw...)
	e.GET("/latest", func(c echo.Context) error { return c.String(http.StatusOK, "[]") })
	e.POST("/predict", func(c echo.Context) error { panic("nil model") })
	e.GET("/slow", func(c echo.Context) error {
		time.Sleep(20 * time.Millisecond)
		return echo.NewHTTPError(http.StatusBadGateway, "upstream")
	})
	return e
}

func serve(e *echo.Echo, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCORSPreflight(t *testing.T) {
	e := newEcho(CORS(CORSConfig{
		AllowOrigins: []string{"https://dash.example"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType},
	}))

	rec := serve(e, http.MethodOptions, "/predict", map[string]string{
		echo.HeaderOrigin:                     "https://dash.example",
		echo.HeaderAccessControlRequestMethod: http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST", rec.Header().Get(echo.HeaderAccessControlAllowMethods))

	rec = serve(e, http.MethodGet, "/latest", map[string]string{echo.HeaderOrigin: "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, echo.HeaderOrigin, rec.Header().Get(echo.HeaderVary))
}

func TestCORSWildcard(t *testing.T) {
	e := newEcho(CORS(CORSConfig{AllowOrigins: []string{"*"}}))
	rec := serve(e, http.MethodGet, "/latest", map[string]string{echo.HeaderOrigin: "https://any.example"})
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestMetricsLogsFailuresAndSlowRequests(t *testing.T) {
	var buf bytes.Buffer
	l := applogger.NewWithWriter(&buf)
	e := newEcho(Metrics(l, 10*time.Millisecond), Recover(l))

	rec := serve(e, http.MethodPost, "/predict", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), `"message":"http handler panic"`)
	assert.Contains(t, buf.String(), `"message":"http request failed"`)
	assert.Contains(t, buf.String(), `"route":"/predict"`)

	buf.Reset()
	rec = serve(e, http.MethodGet, "/slow", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, buf.String(), `"message":"http request slow"`)
	assert.Contains(t, buf.String(), `"status":502`)

	buf.Reset()
	serve(e, http.MethodGet, "/latest", nil)
	assert.Empty(t, buf.String())
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(429))
	assert.Equal(t, "5xx", statusClass(0))
}
