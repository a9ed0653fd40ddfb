// Package daemon assembles the serve-mode process: the execution pipeline
// plus every intake surface (HTTP gateway, drop-box watcher) and the
// maintenance schedule around them.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/davan/docplan/internal/config"
	"github.com/davan/docplan/internal/logger"
	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/internal/schedule"
	"github.com/davan/docplan/internal/telemetry"
	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/internal/watcher"
	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/execqueue"
	"github.com/davan/docplan/pkg/gateway"
	"github.com/davan/docplan/pkg/history"
	"github.com/davan/docplan/pkg/hooks"
	"github.com/davan/docplan/pkg/memdoc"
)

// dedupTTL bounds how long a gateway request id replays its cached result.
const dedupTTL = 5 * time.Minute

// EngineConfig maps the engine section of the app config onto engine tuning.
// Zero values fall through to the engine's own defaults.
func EngineConfig(cfg config.EngineConfig) engine.Config {
	return engine.Config{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		SyncTimeout:     time.Duration(cfg.SyncTimeoutMs) * time.Millisecond,
		MaxBlockDepth:   cfg.MaxBlockDepth,
	}
}

// Daemon represents the docplan daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Execution pipeline
	engine    *engine.Engine
	queue     *execqueue.Queue
	collector *telemetry.Collector
	history   *history.Store
	hookMgr   *hooks.Manager
	dedup     *execqueue.DedupCache
	runner    *PlanRunner

	// Intake surfaces and maintenance
	gateway  *gateway.Server
	watcher  *watcher.Watcher
	schedule *schedule.Runner

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized")
		}
	}

	if err := d.initializePipeline(); err != nil {
		d.fail()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.fail()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

// fail releases what New managed to open before erroring out.
func (d *Daemon) fail() {
	if d.history != nil {
		_ = d.history.Close()
	}
	if d.collector != nil {
		_ = d.collector.Close()
	}
	if d.dedup != nil {
		d.dedup.Stop()
	}
	d.cancel()
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// initializePipeline builds the execution pipeline in dependency order.
func (d *Daemon) initializePipeline() error {
	if d.config.DataDir != "" {
		auditPath := filepath.Join(d.config.DataDir, "audit.log")
		if err := observability.InitAuditLogger(auditPath); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
		}
	}

	hookMgr, err := newHookManager(d.config.Hooks, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create hook manager: %w", err)
	}
	d.hookMgr = hookMgr
	d.logger.Info().Bool("enabled", d.config.Hooks.Enabled).Msg("Hook manager initialized")

	if d.config.Telemetry.Enabled {
		collector, err := telemetry.NewCollector(telemetry.Config{
			Endpoint:    d.config.Telemetry.Endpoint,
			BufferLimit: d.config.Telemetry.BufferLimit,
			DBPath:      d.config.Telemetry.DBPath,
			Timeout:     time.Duration(d.config.Telemetry.TimeoutSeconds) * time.Second,
			Logger:      d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create telemetry collector: %w", err)
		}
		d.collector = collector
		d.logger.Info().Msg("Telemetry collector initialized")
	}

	var sink engine.CapabilitySink
	if d.collector != nil {
		sink = d.collector
	}
	d.engine = engine.New(EngineConfig(d.config.Engine), d.logger.GetZerolog(), sink)
	d.engine.OnDegradedBlock(d.handleDegradedBlock)
	d.logger.Info().Msg("Execution engine initialized")

	d.queue = execqueue.New(d.logger.GetZerolog())
	d.logger.Info().Msg("Execution queue initialized")

	if d.config.History.DBPath != "" {
		store, err := history.New(history.Config{
			DBPath: d.config.History.DBPath,
			Logger: d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		d.history = store
		d.logger.Info().Str("path", d.config.History.DBPath).Msg("History store initialized")
	}

	d.dedup = execqueue.NewDedupCache(dedupTTL)

	runner, err := NewPlanRunner(RunnerConfig{
		Engine:   d.engine,
		Queue:    d.queue,
		Sessions: ScratchSessions(memdoc.Quirks{}),
		History:  d.history,
		Hooks:    d.hookMgr,
		Logger:   d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create plan runner: %w", err)
	}
	d.runner = runner
	d.logger.Info().Msg("Plan runner initialized")

	return nil
}

// initializeServices builds the intake surfaces and the maintenance schedule.
func (d *Daemon) initializeServices() error {
	if d.config.Gateway.Enabled {
		server, err := gateway.NewServer(gateway.Config{
			Host:         d.config.Gateway.Host,
			Port:         d.config.Gateway.Port,
			SharedSecret: d.config.Gateway.SharedSecret,
			Executor:     d.executeGatewayPlan,
			History:      d.history,
			Dedup:        d.dedup,
			Logger:       d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gateway = server
		d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")
	}

	if d.config.Watch.Dir != "" {
		w, err := watcher.New(watcher.Config{
			Dir:      d.config.Watch.Dir,
			Debounce: time.Duration(d.config.Watch.DebounceMs) * time.Millisecond,
			Execute:  d.executeDroppedPlan,
			Logger:   d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create drop-box watcher: %w", err)
		}
		d.watcher = w
		d.logger.Info().Str("dir", d.config.Watch.Dir).Msg("Drop-box watcher initialized")
	}

	d.schedule = schedule.NewRunner(d.logger.GetZerolog())
	if d.collector != nil && d.config.Telemetry.FlushSchedule != "" {
		if err := d.schedule.Add("telemetry-flush", d.config.Telemetry.FlushSchedule, func(ctx context.Context) error {
			return d.collector.Flush(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule telemetry flush: %w", err)
		}
	}
	if d.history != nil && d.config.History.PruneSchedule != "" && d.config.History.RetentionDays > 0 {
		retention := time.Duration(d.config.History.RetentionDays) * 24 * time.Hour
		if err := d.schedule.Add("history-prune", d.config.History.PruneSchedule, func(ctx context.Context) error {
			_, err := d.history.Prune(ctx, retention)
			return err
		}); err != nil {
			return fmt.Errorf("failed to schedule history prune: %w", err)
		}
	}
	d.logger.Info().Msg("Maintenance schedule initialized")

	return nil
}

// executeGatewayPlan adapts the runner to the gateway's executor shape.
func (d *Daemon) executeGatewayPlan(ctx context.Context, req gateway.ExecuteRequest, onStep engine.StepCallback) *engine.Result {
	return d.runner.Run(ctx, "gateway", req.DocumentID, []byte(req.Plan), onStep)
}

// executeDroppedPlan adapts the runner to the watcher's executor shape. The
// file name doubles as the document id, so repeated drops of the same file
// serialize on one lane.
func (d *Daemon) executeDroppedPlan(ctx context.Context, name string, raw []byte) *engine.Result {
	ctx = tracing.NewRequestContext(ctx)
	return d.runner.Run(ctx, "watcher", name, raw, nil)
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting docplan daemon")

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		logger.Info().Msg("Gateway server started")
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			return fmt.Errorf("failed to start drop-box watcher: %w", err)
		}
		logger.Info().Msg("Drop-box watcher started")
	}

	d.schedule.Start()
	logger.Info().Msg("Maintenance schedule started")

	logger.Info().Msg("Daemon started successfully - all modules active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping docplan daemon")

	// Stop intake first so nothing new enters the pipeline.
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop drop-box watcher")
		} else {
			logger.Info().Msg("Drop-box watcher stopped")
		}
	}

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		} else {
			logger.Info().Msg("Gateway server stopped")
		}
	}

	d.schedule.Stop()
	logger.Info().Msg("Maintenance schedule stopped")

	// Drain queued executions before closing the stores they write to.
	if !d.queue.WaitForActive(10 * time.Second) {
		logger.Warn().Msg("Timeout waiting for queued executions to settle")
	}
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close execution queue")
	}
	logger.Info().Msg("Execution queue stopped")

	d.dedup.Stop()

	if d.collector != nil {
		if err := d.collector.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close telemetry collector")
		}
	}

	if d.history != nil {
		if err := d.history.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close history store")
		}
	}

	d.cancel()

	if d.tracingEnabled {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancelShutdown()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetRunner returns the shared execution pipeline
func (d *Daemon) GetRunner() *PlanRunner {
	return d.runner
}

// GetGatewayServer returns the gateway server, nil when disabled
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gateway
}

// GetHistory returns the execution history store, nil when disabled
func (d *Daemon) GetHistory() *history.Store {
	return d.history
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}
