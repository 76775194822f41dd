package models

import "time"

// Interval is the candle resolution of a stored series.
type Interval string

const (
	Interval1d Interval = "1d"
	Interval1h Interval = "1h"
)

// Candle represents one OHLCV observation for a symbol and interval.
// Prices are trusted as received from upstream; no OHLC sanity checks are applied.
type Candle struct {
	Timestamp time.Time // UTC
	Symbol    string
	Interval  Interval
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Key identifies a candle for deduplication inside one (symbol, interval) series.
type Key struct {
	Timestamp int64 // unix nanos
	Symbol    string
}

// Key returns the deduplication key of the candle.
func (c Candle) Key() Key {
	return Key{Timestamp: c.Timestamp.UnixNano(), Symbol: c.Symbol}
}
