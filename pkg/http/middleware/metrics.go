package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        *prometheus.GaugeVec
	httpResponseSize    *prometheus.HistogramVec
	metricsOnce         sync.Once
)

func initHTTPMetrics() {
	metricsOnce.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "fiapml_http_requests_total", Help: "HTTP requests by route and status"},
			[]string{"route", "method", "status"},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiapml_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method", "class"},
		)
		httpInFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "fiapml_http_in_flight_requests", Help: "In-flight HTTP requests"},
			[]string{"route"},
		)
		httpResponseSize = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiapml_http_response_size_bytes",
				Help:    "HTTP response size",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"route"},
		)
	})
}

// Metrics records request metrics labelled by the matched route template, so
// /latest?symbol=AAPL and /latest?symbol=MSFT share a series. It logs 5xx responses
// as errors and responses slower than slow as warnings.
func Metrics(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	initHTTPMetrics()
	if l == nil {
		l = applogger.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := routeLabel(c)
			method := c.Request().Method
			httpInFlight.WithLabelValues(route).Inc()
			defer httpInFlight.WithLabelValues(route).Dec()
			start := time.Now()

			if err := next(c); err != nil {
				// commit the error response now so its status is observable
				c.Error(err)
			}

			res := c.Response()
			dur := time.Since(start)
			status := strconv.Itoa(res.Status)
			httpRequestsTotal.WithLabelValues(route, method, status).Inc()
			httpRequestDuration.WithLabelValues(route, method, statusClass(res.Status)).Observe(dur.Seconds())
			httpResponseSize.WithLabelValues(route).Observe(float64(res.Size))

			fields := []applogger.Field{
				applogger.String("route", route),
				applogger.String("method", method),
				applogger.Int("status", res.Status),
				applogger.Duration("duration_ms", dur),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && dur >= slow:
				l.Warn("http request slow", fields...)
			}
			return nil
		}
	}
}

// routeLabel is the route template. Unmatched requests share one label.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func statusClass(code int) string {
	if code < 100 || code >= 600 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
