package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config tunes the consuming side of a queue.
type Config struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	return c
}

// Envelope is the stored form of a queued job.
type Envelope struct {
	ID         string          `json:"id"`
	Job        string          `json:"job"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// NewEnvelope wraps payload for job with a fresh ID.
func NewEnvelope(job string, payload any, now time.Time) (Envelope, error) {
	env := Envelope{ID: uuid.NewString(), Job: job, EnqueuedAt: now.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", job, err)
		}
		env.Payload = b
	}
	return env, nil
}

// Decode unmarshals a job payload. An empty payload yields the zero value.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// outcome is what happens to an envelope after one delivery.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
)

func (o outcome) String() string {
	switch o {
	case outcomeRetry:
		return "retry"
	case outcomeDead:
		return "dead"
	default:
		return "done"
	}
}
