package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/agent-builder/chat-orchestrator/internal/runtime"
)

var wsTracer = otel.Tracer("run-event-stream")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend host is fixed
		return true
	},
}

// wireLoopEvent is the JSON shape sent to WebSocket clients for each loop
// lifecycle event.
type wireLoopEvent struct {
	Type      string          `json:"type"`
	RunID     string          `json:"runId"`
	Iteration int             `json:"iteration"`
	State     json.RawMessage `json:"state,omitempty"`
	Decision  string          `json:"decision,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RunEventStream streams chat loop lifecycle events for one run over a
// WebSocket connection.
type RunEventStream struct {
	hub    *runtime.LoopEventHub
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewRunEventStream creates the WebSocket stream over the given hub.
func NewRunEventStream(hub *runtime.LoopEventHub, logger zerolog.Logger) *RunEventStream {
	return &RunEventStream{
		hub:    hub,
		tracer: wsTracer,
		logger: logger,
	}
}

// StreamRunEvents upgrades the request and forwards the run's loop events
// until the loop completes, errors or the client disconnects. The stream is
// one-way; client messages are drained and ignored.
func (s *RunEventStream) StreamRunEvents(c *gin.Context) {
	_, span := s.tracer.Start(c.Request.Context(), "gateway.stream_run_events")
	defer span.End()

	runID := c.Param("run_id")
	span.SetAttributes(attribute.String("run.id", runID))

	events, cancel := s.hub.Subscribe(runID)
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("runId", runID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			if err := s.writeEvent(conn, runID, event); err != nil {
				s.logger.Debug().Err(err).Str("runId", runID).Msg("websocket write failed")
				return
			}

			if event.Type == "loop.completed" || event.Type == "loop.error" {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.Type)))
				return
			}
		}
	}
}

func (s *RunEventStream) writeEvent(conn *websocket.Conn, runID string, event runtime.ChatLoopEvent) error {
	state, err := json.Marshal(event.State)
	if err != nil {
		return err
	}

	return conn.WriteJSON(wireLoopEvent{
		Type:      string(event.Type),
		RunID:     runID,
		Iteration: event.Iteration,
		State:     state,
		Decision:  string(event.Decision),
		Reason:    string(event.Reason),
		Error:     event.Error,
	})
}
