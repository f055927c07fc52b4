package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday"

	"kisanmitra.ai/assistant/internal/core"
)

// htmlPolicy strips scripts, event handlers and other active content the
// model may echo from grounded web pages.
var htmlPolicy = bluemonday.UGCPolicy()

// messageEvent is a full-replace snapshot of one chat message. Finalized
// model replies also carry their markdown rendered to HTML.
type messageEvent struct {
	core.ChatMessage
	HTML string `json:"html,omitempty"`
}

func newMessageEvent(msg core.ChatMessage) messageEvent {
	ev := messageEvent{ChatMessage: msg}
	if msg.Role == core.RoleModel && !msg.InProgress && !msg.Loading {
		ev.HTML = string(htmlPolicy.SanitizeBytes(blackfriday.MarkdownCommon([]byte(msg.Text()))))
	}
	return ev
}

type doneEvent struct {
	Conversation string     `json:"conversation"`
	State        core.State `json:"state"`
	OK           bool       `json:"ok"`
}

// sseWriter writes server-sent events. Headers go out with the first event,
// so a request that fails before streaming can still answer with a status.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) Started() bool { return s.started }

func (s *sseWriter) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}
