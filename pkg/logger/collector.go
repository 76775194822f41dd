package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Summary is one warning or error aggregated over a flush window. Entries with the
// same level, message, component, symbol, caller and error text share a Summary.
type Summary struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Component string    `json:"component,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Error     string    `json:"error,omitempty"`
	Caller    string    `json:"caller"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// PartitionKey keeps one component's summaries on one partition.
func (s Summary) PartitionKey() string { return s.Component }

// SummarySink ships a flushed window somewhere durable.
type SummarySink func(ctx context.Context, batch []Summary) error

type CollectorConfig struct {
	Interval  time.Duration // periodic flush, default 30s
	Threshold int           // distinct summaries that force a flush, default 100
	Sink      SummarySink
}

// Collector folds repeated warnings and errors into counted summaries.
type Collector struct {
	cfg CollectorConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*Summary
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	c := &Collector{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*Summary),
		stop:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Add records one occurrence. It is a no-op once the collector is closed.
func (c *Collector) Add(s Summary) {
	now := c.now()
	key := strings.Join([]string{s.Level, s.Component, s.Symbol, s.Message, s.Caller, s.Error}, "\x1f")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		s.Count, s.FirstSeen, s.LastSeen = 1, now, now
		c.entries[key] = &s
	}
	var batch []Summary
	if len(c.entries) >= c.cfg.Threshold {
		batch = c.drainLocked()
	}
	c.mu.Unlock()

	if batch != nil {
		go c.send(batch)
	}
}

func (c *Collector) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.mu.Lock()
			batch := c.drainLocked()
			c.mu.Unlock()
			if batch != nil {
				c.send(batch)
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Collector) drainLocked() []Summary {
	if len(c.entries) == 0 {
		return nil
	}
	batch := make([]Summary, 0, len(c.entries))
	for _, e := range c.entries {
		batch = append(batch, *e)
	}
	c.entries = make(map[string]*Summary)
	return batch
}

// send cannot log through the logger without feeding the collector again.
func (c *Collector) send(batch []Summary) {
	if c.cfg.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.cfg.Sink(ctx, batch); err != nil {
		fmt.Fprintf(os.Stderr, "log summaries dropped (%d): %v\n", len(batch), err)
	}
}

// Close stops the flush loop and ships what is left.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	batch := c.drainLocked()
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
	if batch != nil {
		c.send(batch)
	}
}
