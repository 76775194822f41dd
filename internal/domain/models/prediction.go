package models

import "time"

// Signal is the discretized trade recommendation.
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// NeutralProbability is served when no model exists for a symbol.
const NeutralProbability = 0.5

// Prediction is the scored outcome for a symbol.
type Prediction struct {
	Symbol string
	ProbUp float64
	Signal Signal
	AsOf   time.Time
}

// Metrics is the evaluation report of a trained model on its holdout window.
type Metrics struct {
	Accuracy float64 `json:"accuracy"`
	F1       float64 `json:"f1"`
}

// ReportEntry is one symbol's entry in the training report.
type ReportEntry struct {
	Metrics   Metrics `json:"metrics"`
	ModelPath string  `json:"model_path"`
	TrainRows int     `json:"train_rows"`
	TestRows  int     `json:"test_rows"`
}

// TrainingReport maps symbol to its evaluation and artifact location.
type TrainingReport map[string]ReportEntry
