package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// parser accepts five-field cron expressions plus descriptors such as
// "@daily" and "@every 30s".
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun returns the next fire time for a cron spec, relative to now.
func NextRun(spec string) (time.Time, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return sched.Next(time.Now()), nil
}

// JobFunc is the work a scheduled entry performs. The context is canceled
// when the runner stops.
type JobFunc func(ctx context.Context) error

// EntryStatus is a snapshot of one entry's runtime state.
type EntryStatus struct {
	Name              string
	Spec              string
	NextRunAt         time.Time
	LastRunAt         time.Time
	LastStatus        string // "ok" or "error", empty before first run
	LastError         string
	LastDuration      time.Duration
	ConsecutiveErrors int
}

// entry is a registered job plus its state.
type entry struct {
	name    string
	spec    string
	sched   cron.Schedule
	fn      JobFunc
	running bool

	nextRunAt         time.Time
	lastRunAt         time.Time
	lastStatus        string
	lastError         string
	lastDuration      time.Duration
	consecutiveErrors int
}

// Runner fires named jobs on cron schedules. Entries are registered before
// Start; each run re-arms its own timer.
type Runner struct {
	entries map[string]*entry
	timers  map[string]*time.Timer
	logger  zerolog.Logger
	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates an empty runner.
func NewRunner(logger zerolog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		entries: make(map[string]*entry),
		timers:  make(map[string]*time.Timer),
		logger:  logger.With().Str("component", "schedule").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a named job. Names must be unique.
func (r *Runner) Add(name, spec string, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return fmt.Errorf("runner is stopped")
	}
	if name == "" {
		return fmt.Errorf("entry name is required")
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("entry already registered: %s", name)
	}
	if fn == nil {
		return fmt.Errorf("entry %s: job func is required", name)
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("entry %s: invalid cron spec %q: %w", name, spec, err)
	}

	e := &entry{
		name:  name,
		spec:  spec,
		sched: sched,
		fn:    fn,
	}
	r.entries[name] = e

	// If the runner is already live, arm immediately.
	if r.started {
		r.armLocked(e)
	}

	return nil
}

// Start arms a timer for every registered entry.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return
	}
	r.started = true

	for _, e := range r.entries {
		r.armLocked(e)
	}

	r.logger.Info().Int("entries", len(r.entries)).Msg("schedule runner started")
}

// Stop cancels all timers and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.cancel()

	for name, timer := range r.timers {
		timer.Stop()
		delete(r.timers, name)
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.logger.Info().Msg("schedule runner stopped")
}

// RunNow executes an entry synchronously, outside its schedule. The timer
// cadence is unaffected.
func (r *Runner) RunNow(name string) error {
	r.mu.Lock()
	e, exists := r.entries[name]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("entry not found: %s", name)
	}
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("runner is stopped")
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.execute(e)
	return nil
}

// Entries returns a snapshot of all entries, sorted by name.
func (r *Runner) Entries() []EntryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EntryStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, EntryStatus{
			Name:              e.name,
			Spec:              e.spec,
			NextRunAt:         e.nextRunAt,
			LastRunAt:         e.lastRunAt,
			LastStatus:        e.lastStatus,
			LastError:         e.lastError,
			LastDuration:      e.lastDuration,
			ConsecutiveErrors: e.consecutiveErrors,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// armLocked schedules the entry's next fire (must hold lock).
func (r *Runner) armLocked(e *entry) {
	next := e.sched.Next(time.Now())
	e.nextRunAt = next

	timer := time.AfterFunc(time.Until(next), func() {
		r.fire(e)
	})
	r.timers[e.name] = timer

	r.logger.Debug().
		Str("entry", e.name).
		Time("nextRun", next).
		Msg("entry armed")
}

// fire runs an entry from its timer and re-arms it.
func (r *Runner) fire(e *entry) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.execute(e)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.armLocked(e)
	}
}

// execute runs the entry's job and records the outcome.
func (r *Runner) execute(e *entry) {
	r.mu.Lock()
	if e.running {
		r.mu.Unlock()
		r.logger.Debug().Str("entry", e.name).Msg("entry already running, skipping")
		return
	}
	e.running = true
	r.mu.Unlock()

	start := time.Now()
	err := r.run(e)
	took := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	e.running = false
	e.lastRunAt = start
	e.lastDuration = took

	if err != nil {
		e.lastStatus = "error"
		e.lastError = err.Error()
		e.consecutiveErrors++

		r.logger.Error().
			Str("entry", e.name).
			Err(err).
			Int("consecutiveErrors", e.consecutiveErrors).
			Msg("scheduled run failed")
	} else {
		e.lastStatus = "ok"
		e.lastError = ""
		e.consecutiveErrors = 0

		r.logger.Debug().
			Str("entry", e.name).
			Dur("took", took).
			Msg("scheduled run completed")
	}
}

// run invokes the job func, converting a panic into an error.
func (r *Runner) run(e *entry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return e.fn(r.ctx)
}
