package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/internal/tracing"
	"github.com/davan/docplan/pkg/engine"
)

// streamHandshakeTimeout bounds the wait for the first frame. A client that
// connects and sends nothing does not hold a stream slot forever.
const streamHandshakeTimeout = 30 * time.Second

// handleStream upgrades to WebSocket, reads one plan request, executes it
// while forwarding step frames, then sends the result frame and closes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade stream connection")
		return
	}

	s.inFlightReqs.Add(1)
	s.trackStream(1)
	defer func() {
		conn.Close()
		s.trackStream(-1)
		s.inFlightReqs.Done()
	}()

	s.serveStream(r.Context(), conn, r.RemoteAddr)
}

func (s *Server) serveStream(ctx context.Context, conn *websocket.Conn, remote string) {
	clientID, _ := gonanoid.New()
	logger := s.logger.With().Str("client_id", clientID).Logger()
	logger.Info().Str("remote", remote).Msg("Stream client connected")

	_ = conn.SetReadDeadline(time.Now().Add(streamHandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		logger.Debug().Err(err).Msg("Stream closed before a plan arrived")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	req, err := parseExecuteRequest(raw)
	if err != nil {
		_ = conn.WriteJSON(StreamMessage{Type: StreamTypeError, Error: err.Error()})
		s.closeStream(conn)
		observability.RecordGatewayRequest("/v1/plans/stream", false)
		return
	}

	ctx = tracing.NewRequestContext(ctx)
	if req.RequestID != "" {
		ctx = tracing.WithRequestID(ctx, req.RequestID)
	}
	logger = tracing.LoggerFromContext(ctx, logger)

	if cached, ok := s.cachedResult(req.RequestID); ok {
		if result, isResult := cached.(*engine.Result); isResult {
			logger.Debug().Str("request_id", req.RequestID).Msg("Replaying cached result on stream")
			_ = conn.WriteJSON(StreamMessage{Type: StreamTypeResult, Result: result})
			s.closeStream(conn)
			observability.RecordGatewayRequest("/v1/plans/stream", true)
			return
		}
	}

	logger.Info().
		Str("request_id", req.RequestID).
		Str("document_id", req.DocumentID).
		Msg("Stream received execute request")

	// Step frames are written from the executor's callback, which runs on
	// this goroutine, so writes never interleave.
	onStep := func(step engine.Step) {
		frame := step
		if err := conn.WriteJSON(StreamMessage{Type: StreamTypeStep, Step: &frame}); err != nil {
			logger.Debug().Err(err).Str("step_id", step.ID).Msg("Failed to send step frame")
		}
	}

	result := s.executor(ctx, req, onStep)
	s.cacheResult(req.RequestID, result)
	observability.RecordGatewayRequest("/v1/plans/stream", result.Success)

	if err := conn.WriteJSON(StreamMessage{Type: StreamTypeResult, Result: result}); err != nil {
		logger.Warn().Err(err).Msg("Failed to send result frame")
	}
	s.closeStream(conn)

	logger.Info().Bool("success", result.Success).Msg("Stream finished")
}

func (s *Server) closeStream(conn *websocket.Conn) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (s *Server) trackStream(delta int) {
	s.streamMu.Lock()
	s.activeStreams += delta
	count := s.activeStreams
	s.streamMu.Unlock()
	observability.SetActiveStreams(count)
}
