package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/service"
	"github.com/openfroyo/cloudpilot/pkg/telemetry"
)

const (
	streamWriteWait  = 10 * time.Second
	streamReadWait   = 30 * time.Second
	streamFinishWait = 2 * time.Second
	streamBuffer     = 256
)

// StreamMessage is one frame of the request stream.
type StreamMessage struct {
	// Type is "event", "result" or "error".
	Type     string                  `json:"type"`
	Event    *telemetry.Event        `json:"event,omitempty"`
	Workflow *engine.WorkflowContext `json:"workflow,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type processOutcome struct {
	wf  *engine.WorkflowContext
	err error
}

// streamRequest handles GET /api/ws/requests. The client sends one
// ProcessRequestBody, receives the workflow events of that request as they
// happen and then the final workflow. The server closes the connection.
func (s *Server) streamRequest(c *gin.Context) {
	actor := actorFrom(c)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	var body ProcessRequestBody
	if err := conn.ReadJSON(&body); err != nil {
		s.writeStream(conn, StreamMessage{Type: "error", Error: "invalid request message"})
		return
	}
	if err := binding.Validator.ValidateStruct(&body); err != nil {
		s.writeStream(conn, StreamMessage{Type: "error", Error: err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	payload := body.payload()
	if strings.TrimSpace(payload.RequestID) == "" {
		payload.RequestID = engine.NewRequestID()
	}
	logger := s.logger.With().Str("request_id", payload.RequestID).Logger()

	events := make(chan telemetry.Event, streamBuffer)
	if s.events != nil {
		unsubscribe := s.events.Subscribe(func(e telemetry.Event) {
			select {
			case events <- e:
			default:
				logger.Warn().Str("type", e.Type).Msg("Stream buffer full, event dropped")
			}
		}, telemetry.FilterByRequestID(payload.RequestID))
		defer unsubscribe()
	}

	// Processing outlives a dropped client so that the request is audited.
	ctx := context.WithoutCancel(c.Request.Context())
	done := make(chan processOutcome, 1)
	go func() {
		wf, err := s.svc.Process(ctx, actor, payload)
		done <- processOutcome{wf: wf, err: err}
	}()

	var (
		outcome      *processOutcome
		finishedSeen bool
		grace        <-chan time.Time
		writeFailed  bool
	)
	for outcome == nil || (!finishedSeen && grace != nil) {
		select {
		case e := <-events:
			if e.Type == telemetry.EventTypeRequestFinished {
				finishedSeen = true
			}
			if !writeFailed {
				event := e
				writeFailed = !s.writeStream(conn, StreamMessage{Type: "event", Event: &event})
			}
		case o := <-done:
			outcome = &o
			done = nil
			if s.events != nil && o.err == nil {
				grace = time.After(streamFinishWait)
			}
		case <-grace:
			grace = nil
		}
	}

	if writeFailed {
		return
	}
	if outcome.err != nil {
		s.writeStream(conn, StreamMessage{Type: "error", Error: outcome.err.Error()})
		return
	}
	outcome.wf.RemediationRun = service.RedactRun(outcome.wf.RemediationRun)
	if s.writeStream(conn, StreamMessage{Type: "result", Workflow: outcome.wf}) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "request finished"),
			time.Now().Add(streamWriteWait))
	}
}

func (s *Server) writeStream(conn *websocket.Conn, msg StreamMessage) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Warn().Err(err).Msg("Stream write failed")
		}
		return false
	}
	return true
}
