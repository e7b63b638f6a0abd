// Package coverage provides the script instrumentation hook and the
// accumulator that forwards coverage snapshots to a reporting sink.
package coverage

import (
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Instrumenter rewrites script source before it enters the sandbox.
type Instrumenter interface {
	// Instrument returns the instrumented form of source for filePath.
	Instrument(source, filePath string) (string, error)
}

// Sink receives coverage snapshots.
type Sink interface {
	Update(snapshot map[string]int64)
}

// LogSink reports coverage snapshots through the logger.
type LogSink struct {
	Logger zerolog.Logger
}

// Update logs each changed file's hit count at debug level.
func (s LogSink) Update(snapshot map[string]int64) {
	for path, hits := range snapshot {
		s.Logger.Debug().Str("file", path).Int64("hits", hits).Msg("script coverage")
	}
}

// NopInstrumenter passes source through unchanged.
type NopInstrumenter struct{}

// Instrument returns source unmodified.
func (NopInstrumenter) Instrument(source, _ string) (string, error) {
	return source, nil
}

// Collector accumulates per-file hit counts and periodically forwards
// changed entries to the sink.
type Collector struct {
	sink     Sink
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	hits map[string]int64
	last map[string]int64

	stop chan struct{}
	once sync.Once
}

// NewCollector creates a collector flushing to sink every interval.
// A nil sink disables forwarding; hits are still accumulated.
func NewCollector(sink Sink, interval time.Duration, logger zerolog.Logger) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{
		sink:     sink,
		interval: interval,
		logger:   logger,
		hits:     make(map[string]int64),
		last:     make(map[string]int64),
		stop:     make(chan struct{}),
	}
}

// Record adds n hits for filePath.
func (c *Collector) Record(filePath string, n int64) {
	c.mu.Lock()
	c.hits[filePath] += n
	c.mu.Unlock()
}

// Snapshot returns a copy of the accumulated hit counts.
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.hits)
}

// Start launches the periodic flush loop. The loop never keeps the
// process alive on its own: Stop tears it down.
func (c *Collector) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush()
			case <-c.stop:
				return
			}
		}
	}()
}

// Flush forwards entries that changed since the previous flush.
func (c *Collector) Flush() {
	if c.sink == nil {
		return
	}

	c.mu.Lock()
	diff := make(map[string]int64)
	for path, count := range c.hits {
		if count != c.last[path] {
			diff[path] = count
			c.last[path] = count
		}
	}
	c.mu.Unlock()

	if len(diff) == 0 {
		return
	}
	c.sink.Update(diff)
	c.logger.Debug().Int("files", len(diff)).Msg("flushed coverage")
}

// Stop halts the flush loop after a final flush.
func (c *Collector) Stop() {
	c.once.Do(func() {
		close(c.stop)
		c.Flush()
	})
}
