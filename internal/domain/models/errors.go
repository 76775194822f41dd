package models

import "errors"

var (
	// ErrSchemaMismatch means the upstream shape could not be mapped to the canonical columns.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrUpstreamUnavailable means the market-data provider failed or returned nothing.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInsufficientData means a series is too short for training or scoring.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrModelMissing means no trained artifact exists for the symbol.
	ErrModelMissing = errors.New("model missing")
	// ErrStorageReadCorruption means a stored partition file could not be decoded.
	ErrStorageReadCorruption = errors.New("storage read corruption")
	// ErrSymbolNotAllowed means the symbol is not in the configured allow-list.
	ErrSymbolNotAllowed = errors.New("symbol not allowed")
	// ErrInvalidInterval means the interval is not one of the supported resolutions.
	ErrInvalidInterval = errors.New("invalid interval")
)
