package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	drepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	"github.com/victorescoto/fiap-ml-finance/internal/schema"
	xhttp "github.com/victorescoto/fiap-ml-finance/pkg/http"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/retry"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Client implements MarketData on the Yahoo Finance chart endpoint.
type Client struct {
	baseURL   string
	userAgent string
	policy    retry.Policy
	http      *xhttp.Client
	l         *applogger.Logger
}

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

func WithRetry(p retry.Policy) Option { return func(c *Client) { c.policy = p } }

func WithLogger(l *applogger.Logger) Option { return func(c *Client) { c.l = l } }

var _ drepo.MarketData = (*Client)(nil)

// New creates a client on top of the shared HTTP client.
func New(httpClient *xhttp.Client, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		policy:    retry.DefaultPolicy(),
		http:      httpClient,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(15 * time.Second))
	}
	return c
}

// FetchOHLCV downloads candles for the lookback period. Unknown symbols and empty
// windows yield an empty frame. Transport and server failures wrap
// models.ErrUpstreamUnavailable.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, period string, interval models.Interval) (*schema.RawFrame, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	endpoint := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol)
	query := url.Values{
		"range":          {period},
		"interval":       {string(interval)},
		"includePrePost": {"false"},
		"events":         {"div,splits"},
	}
	headers := map[string]string{"User-Agent": c.userAgent}

	policy := c.policy
	policy.Notify = func(err error, wait time.Duration) {
		if c.l != nil {
			c.l.Warn("yahoo fetch retry",
				applogger.String("symbol", symbol),
				applogger.String("interval", string(interval)),
				applogger.Duration("wait_ms", wait),
				applogger.Error(err),
			)
		}
	}

	var body []byte
	err := retry.Do(ctx, policy, func() error {
		b, err := c.http.Get(ctx, endpoint, query, headers)
		if err != nil {
			var se *xhttp.StatusError
			if errors.As(err, &se) {
				if se.Code == 404 {
					body = se.Body
					return nil
				}
				if !se.Temporary() {
					return retry.Permanent(err)
				}
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", models.ErrUpstreamUnavailable, symbol, interval, err)
	}
	return ParseChart(body, symbol, interval)
}

// ParseChart turns a chart response into a frame shaped like a multi-ticker download:
// a "Date" (daily) or "Datetime" (intraday) axis and ("Open", SYMBOL)... columns.
// Daily bars are stamped at midnight exchange time.
func ParseChart(body []byte, symbol string, interval models.Interval) (*schema.RawFrame, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: chart response is not json", models.ErrUpstreamUnavailable)
	}
	root := gjson.ParseBytes(body)
	result := root.Get("chart.result.0")
	if !result.Exists() {
		// {"chart":{"result":null,"error":{"code":"Not Found",...}}}
		if code := root.Get("chart.error.code").String(); code != "" && code != "Not Found" {
			return nil, fmt.Errorf("%w: %s: %s", models.ErrUpstreamUnavailable, code, root.Get("chart.error.description").String())
		}
		return &schema.RawFrame{}, nil
	}

	stamps := result.Get("timestamp").Array()
	if len(stamps) == 0 {
		return &schema.RawFrame{}, nil
	}
	loc := time.FixedZone("exchange", int(result.Get("meta.gmtoffset").Int()))
	axis := "Datetime"
	if interval == models.Interval1d {
		axis = "Date"
	}
	times := make([]any, len(stamps))
	for i, s := range stamps {
		ts := time.Unix(s.Int(), 0).In(loc)
		if interval == models.Interval1d {
			ts = time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)
		}
		times[i] = ts
	}

	quote := result.Get("indicators.quote.0")
	frame := &schema.RawFrame{Columns: []schema.Column{{Name: []string{axis, ""}, Values: times}}}
	for _, f := range []struct{ src, name string }{
		{"open", "Open"}, {"high", "High"}, {"low", "Low"}, {"close", "Close"}, {"volume", "Volume"},
	} {
		frame.Columns = append(frame.Columns, schema.Column{
			Name:   []string{f.name, symbol},
			Values: values(quote.Get(f.src).Array(), len(stamps)),
		})
	}
	return frame, nil
}

// values converts a json array to floats, nil for nulls and missing tail entries.
func values(arr []gjson.Result, n int) []any {
	out := make([]any, n)
	for i := 0; i < n && i < len(arr); i++ {
		if arr[i].Type == gjson.Number {
			out[i] = arr[i].Float()
		}
	}
	return out
}
