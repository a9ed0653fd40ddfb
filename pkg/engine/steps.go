package engine

import (
	"sync"
	"time"
)

// StepStatus tracks an action through its lifecycle.
type StepStatus string

const (
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// Step is the progress record for one attempted action. Nested actions get
// their own steps; parents appear before their children.
type Step struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Op        string     `json:"op"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// StepCallback receives each step transition as it happens: once when an
// action starts processing and once when it settles. Callbacks run inline on
// the execution goroutine and should return quickly.
type StepCallback func(step Step)

// Result is the terminal outcome of a plan execution.
type Result struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Steps   []Step     `json:"steps"`
	Debug   *DebugInfo `json:"debug_info,omitempty"`
}

// DebugInfo carries routing and timing detail that helps diagnose a run
// without digging through logs.
type DebugInfo struct {
	RunID        string        `json:"run_id"`
	DeclaredHost string        `json:"declared_host,omitempty"`
	ActualHost   string        `json:"actual_host,omitempty"`
	HostMismatch bool          `json:"host_mismatch,omitempty"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
	ActionCount  int           `json:"action_count"`
}

// stepRecorder owns the ordered step log for one run and relays transitions
// to the caller's callback. A panicking callback is disarmed rather than
// allowed to poison the run.
type stepRecorder struct {
	mu       sync.Mutex
	steps    []Step
	index    map[string]int
	callback StepCallback
}

func newStepRecorder(cb StepCallback) *stepRecorder {
	return &stepRecorder{
		index:    make(map[string]int),
		callback: cb,
	}
}

func (r *stepRecorder) begin(id, title, op string) {
	r.transition(Step{
		ID:        id,
		Title:     title,
		Op:        op,
		Status:    StepProcessing,
		Timestamp: time.Now(),
	})
}

func (r *stepRecorder) complete(id string) {
	r.settle(id, StepCompleted, "")
}

func (r *stepRecorder) fail(id string, errMsg string) {
	r.settle(id, StepError, errMsg)
}

func (r *stepRecorder) settle(id string, status StepStatus, errMsg string) {
	r.mu.Lock()
	i, ok := r.index[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	step := r.steps[i]
	r.mu.Unlock()

	step.Status = status
	step.Error = errMsg
	step.Timestamp = time.Now()
	r.transition(step)
}

func (r *stepRecorder) transition(step Step) {
	r.mu.Lock()
	if i, ok := r.index[step.ID]; ok {
		r.steps[i] = step
	} else {
		r.index[step.ID] = len(r.steps)
		r.steps = append(r.steps, step)
	}
	cb := r.callback
	r.mu.Unlock()

	if cb != nil {
		func() {
			defer func() {
				if recover() != nil {
					r.mu.Lock()
					r.callback = nil
					r.mu.Unlock()
				}
			}()
			cb(step)
		}()
	}
}

func (r *stepRecorder) snapshot() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}
