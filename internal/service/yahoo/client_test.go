package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	xhttp "github.com/victorescoto/fiap-ml-finance/pkg/http"
	"github.com/victorescoto/fiap-ml-finance/pkg/retry"
)

const dailyChart = `{"chart":{"result":[{"meta":{"symbol":"AAPL","gmtoffset":-14400},
"timestamp":[1709559000,1709645400,1709731800],
"indicators":{"quote":[{"open":[170.1,171.2,null],"high":[172.0,173.0,null],
"low":[169.0,170.0,null],"close":[171.5,172.5,null],"volume":[1000,2000,null]}]}}],"error":null}}`

func fastRetry() retry.Policy {
	return retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxRetries: 2}
}

func TestParseChartDaily(t *testing.T) {
	frame, err := ParseChart([]byte(dailyChart), "AAPL", models.Interval1d)
	require.NoError(t, err)
	require.Equal(t, 3, frame.Len())
	assert.Equal(t, []string{"Date", ""}, frame.Columns[0].Name)
	assert.Equal(t, []string{"Close", "AAPL"}, frame.Columns[4].Name)

	rows, err := schema.Normalize(frame, "AAPL", models.Interval1d)
	require.NoError(t, err)
	// the trailing null bar is dropped
	require.Len(t, rows, 2)
	// 2024-03-04 midnight New York (UTC-4 offset from meta) in UTC
	assert.Equal(t, time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC), rows[0].Timestamp)
	assert.Equal(t, 172.5, rows[1].Close)
	assert.Equal(t, 2000.0, rows[1].Volume)
}

func TestParseChartIntradayKeepsBarTime(t *testing.T) {
	frame, err := ParseChart([]byte(dailyChart), "AAPL", models.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, "Datetime", frame.Columns[0].Name[0])
	rows, err := schema.Normalize(frame, "AAPL", models.Interval1h)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1709559000, 0).UTC(), rows[0].Timestamp)
}

func TestParseChartNoData(t *testing.T) {
	frame, err := ParseChart([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`), "ZZZZ", models.Interval1d)
	require.NoError(t, err)
	assert.True(t, frame.Empty())

	_, err = ParseChart([]byte(`<html>`), "ZZZZ", models.Interval1d)
	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}

func TestFetchOHLCVRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "2mo", r.URL.Query().Get("range"))
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(dailyChart))
	}))
	defer srv.Close()

	c := New(xhttp.NewClient(), WithBaseURL(srv.URL), WithRetry(fastRetry()))
	frame, err := c.FetchOHLCV(context.Background(), "aapl", "2mo", models.Interval1d)
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())
}

func TestFetchOHLCVRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(dailyChart))
	}))
	defer srv.Close()

	c := New(xhttp.NewClient(), WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := c.FetchOHLCV(context.Background(), "AAPL", "5d", models.Interval1d)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchOHLCVClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(xhttp.NewClient(), WithBaseURL(srv.URL), WithRetry(fastRetry()))
	_, err := c.FetchOHLCV(context.Background(), "AAPL", "5d", models.Interval1d)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchOHLCVUnknownSymbolIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"delisted"}}}`))
	}))
	defer srv.Close()

	c := New(xhttp.NewClient(), WithBaseURL(srv.URL), WithRetry(fastRetry()))
	frame, err := c.FetchOHLCV(context.Background(), "ZZZZ", "5d", models.Interval1d)
	require.NoError(t, err)
	assert.True(t, frame.Empty())
}
