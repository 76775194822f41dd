package models

import "time"

// FeatureRow is the derived feature vector for one candle with complete history.
type FeatureRow struct {
	Index     int // position in the source candle sequence
	Timestamp time.Time
	Symbol    string
	Close     float64

	Ret1      float64
	Ret5      float64
	Ret10     float64
	SMA5      float64
	SMA10     float64
	SMA20     float64
	DistSMA5  float64
	DistSMA10 float64
	DistSMA20 float64
	Vol10     float64
}

// Vector returns the model input in the canonical feature order.
func (r FeatureRow) Vector() []float64 {
	return []float64{r.Ret1, r.Ret5, r.Ret10, r.DistSMA5, r.DistSMA10, r.DistSMA20, r.Vol10}
}

// LabeledRow is a feature row paired with its next-candle direction.
type LabeledRow struct {
	FeatureRow
	NextClose float64
	Label     int // 1 if next close > close, else 0
}
