package models

// Requests for the HTTP surface. Defined in domain for consistency and reuse.

type LatestRequest struct {
	Symbol   string `query:"symbol" json:"symbol" validate:"required"`
	Interval string `query:"interval" json:"interval" default:"1d" validate:"oneof=1d 1h"`
	Limit    int    `query:"limit" json:"limit" default:"120" validate:"gte=1,lte=5000"`
}

type PredictRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}
