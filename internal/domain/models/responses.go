package models

import "time"

// Wire shapes of the HTTP surface. Timestamps are ISO-8601 strings.

type HealthResponse struct {
	Status string `json:"status"`
}

type SymbolsResponse struct {
	Symbols []string `json:"symbols"`
}

type CandleDTO struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type LatestResponse struct {
	Symbol   string      `json:"symbol"`
	Interval string      `json:"interval"`
	Candles  []CandleDTO `json:"candles"`
}

type PredictResponse struct {
	Symbol string  `json:"symbol"`
	ProbUp float64 `json:"prob_up"`
	Signal Signal  `json:"signal"`
	AsOf   string  `json:"asof"`
}

// ISOTime formats t in UTC as RFC 3339.
func ISOTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func NewCandleDTOs(rows []Candle) []CandleDTO {
	out := make([]CandleDTO, len(rows))
	for i, r := range rows {
		out[i] = CandleDTO{
			Timestamp: ISOTime(r.Timestamp),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}
	return out
}

func NewPredictResponse(p Prediction) PredictResponse {
	return PredictResponse{Symbol: p.Symbol, ProbUp: p.ProbUp, Signal: p.Signal, AsOf: ISOTime(p.AsOf)}
}
