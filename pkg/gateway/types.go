package gateway

import (
	"context"
	"encoding/json"

	"github.com/davan/docplan/pkg/engine"
	"github.com/davan/docplan/pkg/history"
)

// ExecuteRequest is the body of POST /v1/plans/execute and the first frame
// on a stream connection.
type ExecuteRequest struct {
	// RequestID deduplicates retries. A repeated id within the dedup window
	// replays the recorded result instead of executing the plan again.
	RequestID string `json:"request_id,omitempty"`

	// DocumentID names the execution lane. Plans sharing a document id run
	// one at a time; requests without one share the default lane.
	DocumentID string `json:"document_id,omitempty"`

	// Plan is the raw plan payload, handed to the engine untouched.
	Plan json.RawMessage `json:"plan"`
}

// PlanExecutor runs one plan through the execution pipeline and returns its
// terminal result. The gateway owns transport concerns only; queueing,
// sessions, history, and hooks live behind this function.
type PlanExecutor func(ctx context.Context, req ExecuteRequest, onStep engine.StepCallback) *engine.Result

// Stream frame types.
const (
	StreamTypeStep   = "step"
	StreamTypeResult = "result"
	StreamTypeError  = "error"
)

// StreamMessage is one frame on a plan stream: step frames while the plan
// runs, then exactly one result or error frame.
type StreamMessage struct {
	Type   string         `json:"type"`
	Step   *engine.Step   `json:"step,omitempty"`
	Result *engine.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ExecutionsResponse is the body of GET /v1/executions.
type ExecutionsResponse struct {
	Executions []history.Entry `json:"executions"`
	Count      int             `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}
