package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
)

func TestMergeCandlesKeepsLaterDuplicate(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	existing := series("AAPL", models.Interval1d, start, day, 10, 11, 12)
	fetched := series("AAPL", models.Interval1d, start.Add(day), day, 99, 13)

	got := MergeCandles(existing, fetched)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{10, 99, 13}, []float64{got[0].Close, got[1].Close, got[2].Close})
	assert.Equal(t, 11.0, existing[1].Close, "inputs are not modified")
}

func TestMergeCandlesSortsAscendingWithoutDuplicates(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := series("AAPL", models.Interval1d, start, day, 1, 2, 3, 4, 5)
	shuffled := []models.Candle{rows[3], rows[0], rows[4], rows[1], rows[3], rows[2]}

	got := MergeCandles(shuffled, nil)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestMergeCandlesSameKeyWithinOneBatch(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := models.Candle{Timestamp: ts, Symbol: "AAPL", Close: 1}
	b := models.Candle{Timestamp: ts, Symbol: "AAPL", Close: 2}

	got := MergeCandles([]models.Candle{a, b}, nil)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Close)
	assert.Nil(t, MergeCandles(nil, nil))
}

func TestTail(t *testing.T) {
	rows := series("AAPL", models.Interval1d, time.Now(), day, 1, 2, 3)
	assert.Len(t, Tail(rows, 2), 2)
	assert.Equal(t, 3.0, Tail(rows, 2)[1].Close)
	assert.Len(t, Tail(rows, 10), 3)
	assert.Len(t, Tail(rows, 0), 3)
}
