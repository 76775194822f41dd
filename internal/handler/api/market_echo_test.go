package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/service/ratelimit"
)

type fakeService struct {
	symbols    []string
	rows       []models.Candle
	pred       models.Prediction
	err        error
	lastLimit  int
	lastIv     models.Interval
	latestHits int
}

func (f *fakeService) Symbols() []string { return f.symbols }

func (f *fakeService) GetLatest(_ context.Context, symbol string, iv models.Interval, limit int) ([]models.Candle, error) {
	f.latestHits++
	f.lastLimit, f.lastIv = limit, iv
	if !contains(f.symbols, symbol) {
		return nil, models.ErrSymbolNotAllowed
	}
	return f.rows, f.err
}

func (f *fakeService) Predict(_ context.Context, symbol string) (models.Prediction, error) {
	if !contains(f.symbols, symbol) {
		return models.Prediction{}, models.ErrSymbolNotAllowed
	}
	return f.pred, f.err
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func serve(t *testing.T, h *MarketEchoHandler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndSymbols(t *testing.T) {
	h := NewMarketEchoHandler(nil, &fakeService{symbols: []string{"AAPL", "MSFT"}}, nil)

	rec := serve(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(t, h, http.MethodGet, "/symbols")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbols":["AAPL","MSFT"]}`, rec.Body.String())
}

func TestLatestReturnsCandles(t *testing.T) {
	ts := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	svc := &fakeService{symbols: []string{"AAPL"}, rows: []models.Candle{
		{Timestamp: ts, Symbol: "AAPL", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
	}}
	rec := serve(t, NewMarketEchoHandler(nil, svc, nil), http.MethodGet, "/latest?symbol=AAPL&interval=1h&limit=10")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"AAPL","interval":"1h","candles":[
		{"timestamp":"2024-05-02T00:00:00Z","open":1,"high":2,"low":0.5,"close":1.5,"volume":100}]}`, rec.Body.String())
	assert.Equal(t, 10, svc.lastLimit)
	assert.Equal(t, models.Interval1h, svc.lastIv)
}

func TestLatestDefaults(t *testing.T) {
	svc := &fakeService{symbols: []string{"AAPL"}}
	rec := serve(t, NewMarketEchoHandler(nil, svc, nil), http.MethodGet, "/latest?symbol=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120, svc.lastLimit)
	assert.Equal(t, models.Interval1d, svc.lastIv)
	assert.Equal(t, []any{}, decode(t, rec)["candles"])
}

func TestLatestRejectsBadInput(t *testing.T) {
	svc := &fakeService{symbols: []string{"AAPL"}}
	h := NewMarketEchoHandler(nil, svc, nil)

	for _, target := range []string{
		"/latest",
		"/latest?symbol=AAPL&interval=5m",
		"/latest?symbol=AAPL&limit=-3",
		"/latest?symbol=AAPL&limit=abc",
	} {
		rec := serve(t, h, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Zero(t, svc.latestHits)

	rec := serve(t, h, http.MethodGet, "/latest?symbol=ZZZZ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "symbol not allowed")
}

func TestLatestUpstreamFailureIs500(t *testing.T) {
	svc := &fakeService{symbols: []string{"AAPL"}, err: errors.Join(models.ErrUpstreamUnavailable, errors.New("empty"))}
	rec := serve(t, NewMarketEchoHandler(nil, svc, nil), http.MethodGet, "/latest?symbol=AAPL")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to fetch latest")
}

func TestPredict(t *testing.T) {
	asof := time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)
	svc := &fakeService{symbols: []string{"AAPL"}, pred: models.Prediction{Symbol: "AAPL", ProbUp: 0.5, Signal: models.SignalHold, AsOf: asof}}
	h := NewMarketEchoHandler(nil, svc, nil)

	rec := serve(t, h, http.MethodPost, "/predict?symbol=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"AAPL","prob_up":0.5,"signal":"hold","asof":"2024-06-03T15:30:00Z"}`, rec.Body.String())

	rec = serve(t, h, http.MethodPost, "/predict?symbol=NOPE")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodPost, "/predict")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictRateLimited(t *testing.T) {
	svc := &fakeService{symbols: []string{"AAPL"}, pred: models.Prediction{Symbol: "AAPL", Signal: models.SignalHold}}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lim := ratelimit.New(1, 0.001).WithClock(func() time.Time { return now })
	h := NewMarketEchoHandler(nil, svc, lim)

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/predict?symbol=AAPL").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(t, h, http.MethodPost, "/predict?symbol=AAPL").Code)
}
