package models

import "time"

const (
	EventPartitionWritten = "partition_written"
	EventModelTrained     = "model_trained"
)

// Event is published after the store changes so readers can drop stale caches.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Symbol    string    `json:"symbol"`
	Interval  Interval  `json:"interval,omitempty"`
	Path      string    `json:"path,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// PartitionKey keeps one symbol's events in order on the bus.
func (e Event) PartitionKey() string { return e.Symbol }
