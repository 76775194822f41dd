package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded exponential backoff with jitter.
type Policy struct {
	InitialInterval     time.Duration `yaml:"initial_interval" default:"200ms"`
	MaxInterval         time.Duration `yaml:"max_interval" default:"3s"`
	MaxElapsed          time.Duration `yaml:"max_elapsed" default:"15s"`
	MaxRetries          uint64        `yaml:"max_retries" default:"3"`
	Multiplier          float64       `yaml:"multiplier" default:"2"`
	RandomizationFactor float64       `yaml:"randomization_factor" default:"0.5"`

	// Notify is called before each retry.
	Notify func(err error, wait time.Duration) `yaml:"-"`
}

func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         3 * time.Second,
		MaxElapsed:          15 * time.Second,
		MaxRetries:          3,
		Multiplier:          2,
		RandomizationFactor: 0.5,
	}
}

// NoRetry runs the operation exactly once.
func NoRetry() Policy { return Policy{MaxRetries: 0, InitialInterval: time.Millisecond} }

// Do runs op until it succeeds, returns a Permanent error, the policy is exhausted
// or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor >= 0 {
		eb.RandomizationFactor = p.RandomizationFactor
	}
	eb.MaxElapsedTime = p.MaxElapsed

	var b backoff.BackOff = backoff.WithMaxRetries(eb, p.MaxRetries)
	b = backoff.WithContext(b, ctx)

	err := backoff.RetryNotify(op, b, p.Notify)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return errors.Join(err, ctxErr)
	}
	return err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}
