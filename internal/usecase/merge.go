package usecase

import (
	"sort"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
)

// MergeCandles concatenates existing and fetched rows, keeps the last occurrence of every
// (timestamp, symbol) key and returns the result ascending by timestamp. Later rows win,
// so fetched data overrides stale reads of the same bar. Inputs are not modified.
func MergeCandles(existing, fetched []models.Candle) []models.Candle {
	total := len(existing) + len(fetched)
	if total == 0 {
		return nil
	}
	pos := make(map[models.Key]int, total)
	out := make([]models.Candle, 0, total)
	for _, batch := range [][]models.Candle{existing, fetched} {
		for _, c := range batch {
			k := c.Key()
			if i, ok := pos[k]; ok {
				out[i] = c
				continue
			}
			pos[k] = len(out)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Tail returns the last n rows.
func Tail(rows []models.Candle, n int) []models.Candle {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}
