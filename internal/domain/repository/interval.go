package repository

import "github.com/victorescoto/fiap-ml-finance/internal/domain/models"

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv models.Interval) bool {
	switch iv {
	case models.Interval1d, models.Interval1h:
		return true
	default:
		return false
	}
}
