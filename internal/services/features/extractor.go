package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
)

// Lookback windows. Longest bounds how many leading rows are dropped.
const (
	WindowSMAShort = 5
	WindowSMAMid   = 10
	WindowSMALong  = 20
	WindowVol      = 10
	Longest        = WindowSMALong
)

// FeatureNames is the model input order used by training and inference alike.
var FeatureNames = []string{"ret1", "ret5", "ret10", "dist_sma5", "dist_sma10", "dist_sma20", "vol10"}

// AddBasicFeatures derives returns, moving averages, SMA distances and return volatility
// from an ascending, duplicate-free candle sequence of one symbol. Rows without a
// complete lookback window, or with a non-finite value, are dropped.
// Volatility is the sample standard deviation (n-1) of the last 10 one-period returns.
func AddBasicFeatures(rows []models.Candle) []models.FeatureRow {
	n := len(rows)
	if n < Longest {
		return nil
	}
	closes := make([]float64, n)
	for i, r := range rows {
		closes[i] = r.Close
	}
	ret1 := pctChange(closes, 1)

	out := make([]models.FeatureRow, 0, n-Longest+1)
	for i := Longest - 1; i < n; i++ {
		c := closes[i]
		fr := models.FeatureRow{
			Index:     i,
			Timestamp: rows[i].Timestamp,
			Symbol:    rows[i].Symbol,
			Close:     c,
			Ret1:      ret1[i],
			Ret5:      pctAt(closes, i, 5),
			Ret10:     pctAt(closes, i, 10),
			SMA5:      stat.Mean(closes[i-WindowSMAShort+1:i+1], nil),
			SMA10:     stat.Mean(closes[i-WindowSMAMid+1:i+1], nil),
			SMA20:     stat.Mean(closes[i-WindowSMALong+1:i+1], nil),
			Vol10:     stat.StdDev(ret1[i-WindowVol+1:i+1], nil),
		}
		fr.DistSMA5 = c/fr.SMA5 - 1
		fr.DistSMA10 = c/fr.SMA10 - 1
		fr.DistSMA20 = c/fr.SMA20 - 1
		if !finite(fr.Vector()) {
			continue
		}
		out = append(out, fr)
	}
	return out
}

// MakeLabel pairs each feature row with the next candle's close and marks it 1 when the
// close went up. The last row has no successor and is dropped, as is any row whose
// successor was itself dropped by AddBasicFeatures.
func MakeLabel(rows []models.FeatureRow) []models.LabeledRow {
	if len(rows) < 2 {
		return nil
	}
	out := make([]models.LabeledRow, 0, len(rows)-1)
	for i := 0; i < len(rows)-1; i++ {
		next := rows[i+1]
		if next.Index != rows[i].Index+1 {
			continue
		}
		label := 0
		if next.Close > rows[i].Close {
			label = 1
		}
		out = append(out, models.LabeledRow{FeatureRow: rows[i], NextClose: next.Close, Label: label})
	}
	return out
}

// Matrix returns the feature vectors of rows in FeatureNames order.
func Matrix(rows []models.FeatureRow) [][]float64 {
	X := make([][]float64, len(rows))
	for i, r := range rows {
		X[i] = r.Vector()
	}
	return X
}

// LabeledMatrix returns the design matrix and label vector of labeled rows.
func LabeledMatrix(rows []models.LabeledRow) ([][]float64, []int) {
	X := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		X[i] = r.Vector()
		y[i] = r.Label
	}
	return X, y
}

// pctChange returns x[i]/x[i-lag]-1, NaN where undefined.
func pctChange(x []float64, lag int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = pctAt(x, i, lag)
	}
	return out
}

func pctAt(x []float64, i, lag int) float64 {
	if i-lag < 0 || x[i-lag] == 0 {
		return math.NaN()
	}
	return x[i]/x[i-lag] - 1
}

func finite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
