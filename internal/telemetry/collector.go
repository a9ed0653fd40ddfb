package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/pkg/engine"
)

// Config holds collector configuration
type Config struct {
	// Endpoint is the HTTP POST target for flushed batches. Empty keeps
	// events local.
	Endpoint string

	// BufferLimit caps the in-memory event buffer. When full, the oldest
	// events are dropped. Defaults to 1000.
	BufferLimit int

	// DBPath locates the capability matrix database. Empty disables the
	// matrix store.
	DBPath string

	// Timeout bounds each export request. Defaults to 10s.
	Timeout time.Duration

	Logger zerolog.Logger
}

// Collector buffers capability events from the engine and flushes them on a
// schedule. Each flush aggregates the batch into the local capability matrix
// and, when an endpoint is configured, exports it as one POST.
type Collector struct {
	cfg    Config
	store  *matrixStore
	client *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	buffer  []engine.CapabilityEvent
	dropped int64
}

var _ engine.CapabilitySink = (*Collector)(nil)

// NewCollector creates a collector. The matrix store is opened eagerly so a
// bad DB path fails at startup, not at first flush.
func NewCollector(cfg Config) (*Collector, error) {
	observability.EnsureRegistered()

	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Collector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger.With().Str("component", "telemetry").Logger(),
	}

	if cfg.DBPath != "" {
		store, err := newMatrixStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open capability store: %w", err)
		}
		c.store = store
	}

	return c, nil
}

// RecordCapability implements engine.CapabilitySink. It only appends to the
// buffer; the engine calls it inline on the execution path.
func (c *Collector) RecordCapability(ev engine.CapabilityEvent) {
	c.mu.Lock()

	if len(c.buffer) >= c.cfg.BufferLimit {
		// Drop the oldest event to keep fresh signal.
		c.buffer = c.buffer[1:]
		c.dropped++
	}
	c.buffer = append(c.buffer, ev)
	buffered := len(c.buffer)

	c.mu.Unlock()

	observability.SetTelemetryBuffered(buffered)
}

// Buffered returns the number of events waiting for the next flush.
func (c *Collector) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Dropped returns how many events were discarded to buffer pressure.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Flush drains the buffer, folds the batch into the capability matrix and
// exports it. Events are not retried on export failure; the matrix keeps the
// local record either way.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	observability.SetTelemetryBuffered(0)

	if c.store != nil {
		if err := c.store.apply(ctx, batch); err != nil {
			c.logger.Warn().Err(err).Msg("failed to update capability matrix")
		}
	}

	if c.cfg.Endpoint == "" {
		observability.RecordTelemetryFlush(true)
		c.logger.Debug().Int("events", len(batch)).Msg("telemetry flushed locally")
		return nil
	}

	if err := c.export(ctx, batch); err != nil {
		observability.RecordTelemetryFlush(false)
		c.logger.Warn().Err(err).Int("events", len(batch)).Msg("telemetry export failed")
		return err
	}

	observability.RecordTelemetryFlush(true)
	c.logger.Debug().Int("events", len(batch)).Msg("telemetry exported")

	return nil
}

// export POSTs one batch to the configured endpoint.
func (c *Collector) export(ctx context.Context, batch []engine.CapabilityEvent) error {
	payload := struct {
		Events []engine.CapabilityEvent `json:"events"`
	}{Events: batch}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to export telemetry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telemetry endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}

// Matrix returns the aggregated capability rows, optionally filtered by host.
func (c *Collector) Matrix(ctx context.Context, host string) ([]MatrixRow, error) {
	if c.store == nil {
		return nil, fmt.Errorf("capability store not configured")
	}
	return c.store.query(ctx, host)
}

// Close flushes remaining events and releases the store.
func (c *Collector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	if err := c.Flush(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("final telemetry flush failed")
	}

	if c.store != nil {
		return c.store.close()
	}
	return nil
}
