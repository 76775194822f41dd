package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
)

func series(closes ...float64) []models.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{
			Timestamp: start.AddDate(0, 0, i),
			Symbol:    "TEST",
			Interval:  models.Interval1d,
			Open:      c, High: c, Low: c, Close: c, Volume: 1,
		}
	}
	return out
}

func wave(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 5*math.Sin(float64(i)/3) + float64(i)*0.1
	}
	return out
}

func TestAddBasicFeaturesDropsIncompleteHistory(t *testing.T) {
	for _, n := range []int{0, 5, 19, 20, 25, 60} {
		rows := AddBasicFeatures(series(wave(n)...))
		want := n - 19
		if want < 0 {
			want = 0
		}
		assert.LessOrEqual(t, len(rows), want, "n=%d", n)
		assert.Len(t, rows, want, "n=%d", n)
		for _, r := range rows {
			for j, v := range r.Vector() {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "n=%d feature %s", n, FeatureNames[j])
			}
		}
	}
}

func TestAddBasicFeaturesValues(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	rows := AddBasicFeatures(series(closes...))
	require.Len(t, rows, 1)
	r := rows[0]

	assert.Equal(t, 19, r.Index)
	assert.InDelta(t, 20.0/19-1, r.Ret1, 1e-12)
	assert.InDelta(t, 20.0/15-1, r.Ret5, 1e-12)
	assert.InDelta(t, 20.0/10-1, r.Ret10, 1e-12)
	assert.InDelta(t, 18.0, r.SMA5, 1e-12)
	assert.InDelta(t, 15.5, r.SMA10, 1e-12)
	assert.InDelta(t, 10.5, r.SMA20, 1e-12)
	assert.InDelta(t, 20.0/18-1, r.DistSMA5, 1e-12)

	// sample standard deviation of the last ten 1-period returns
	var rets []float64
	for i := 10; i < 20; i++ {
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	mean := 0.0
	for _, v := range rets {
		mean += v
	}
	mean /= float64(len(rets))
	ss := 0.0
	for _, v := range rets {
		ss += (v - mean) * (v - mean)
	}
	assert.InDelta(t, math.Sqrt(ss/9), r.Vol10, 1e-12)
}

func TestFeatureVectorOrder(t *testing.T) {
	r := models.FeatureRow{Ret1: 1, Ret5: 2, Ret10: 3, DistSMA5: 4, DistSMA10: 5, DistSMA20: 6, Vol10: 7}
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, r.Vector())
	assert.Len(t, FeatureNames, len(r.Vector()))
}

func TestMakeLabelAlignment(t *testing.T) {
	src := series(wave(40)...)
	labeled := MakeLabel(AddBasicFeatures(src))
	require.Len(t, labeled, 40-19-1)

	last := src[len(src)-1].Timestamp
	for _, r := range labeled {
		assert.NotEqual(t, last, r.Timestamp, "final source row must not be labeled")
		next := src[r.Index+1].Close
		assert.Equal(t, next, r.NextClose)
		if r.Label == 1 {
			assert.Greater(t, src[r.Index+1].Close, src[r.Index].Close)
		} else {
			assert.LessOrEqual(t, src[r.Index+1].Close, src[r.Index].Close)
		}
	}
}

func TestMakeLabelSkipsGaps(t *testing.T) {
	rows := []models.FeatureRow{
		{Index: 20, Close: 1},
		{Index: 22, Close: 2},
		{Index: 23, Close: 3},
	}
	labeled := MakeLabel(rows)
	require.Len(t, labeled, 1)
	assert.Equal(t, 22, labeled[0].Index)
	assert.Equal(t, 1, labeled[0].Label)

	assert.Nil(t, MakeLabel(rows[:1]))
}

func TestZeroCloseRowsDropped(t *testing.T) {
	closes := wave(30)
	closes[25] = 0
	rows := AddBasicFeatures(series(closes...))
	for _, r := range rows {
		assert.NotEqual(t, 26, r.Index)
	}
}

func TestLabeledMatrix(t *testing.T) {
	labeled := MakeLabel(AddBasicFeatures(series(wave(30)...)))
	X, y := LabeledMatrix(labeled)
	require.Len(t, X, len(labeled))
	require.Len(t, y, len(labeled))
	assert.Len(t, X[0], len(FeatureNames))
}
