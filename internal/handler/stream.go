package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rcarmo/md4sat/internal/recovery"
	"github.com/rcarmo/md4sat/internal/transform"
)

const (
	webSocketReadBufferSize  = 4096
	webSocketWriteBufferSize = 4096
	writeWait                = 10 * time.Second
)

// StreamMessage is one frame sent to a websocket client.
type StreamMessage struct {
	Type   string           `json:"type"`
	ID     string           `json:"id,omitempty"`
	Phase  string           `json:"phase,omitempty"`
	Step   int              `json:"step,omitempty"`
	Round  int              `json:"round,omitempty"`
	Nodes  int              `json:"nodes,omitempty"`
	Result *RecoverResponse `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Stream handles GET /ws/recover. The client sends one RecoverRequest; the
// server answers with a "step" frame per transform event and then a single
// "result" or "error" frame. Closing the socket cancels the run.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := requestID(r.Context())
	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isOriginAllowed(origin, h.cfg.Security.AllowedOrigins, r.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade websocket: %v", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			h.log.Debug("close websocket: %v", err)
		}
	}()
	conn.SetReadLimit(h.cfg.Security.MaxRequestBytes)

	var body RecoverRequest
	if err := conn.ReadJSON(&body); err != nil {
		h.log.Debug("read request from ws: %v", err)
		h.send(conn, StreamMessage{Type: "error", ID: id, Error: err.Error()})
		return
	}
	req, err := h.request(body)
	if err != nil {
		h.send(conn, StreamMessage{Type: "error", ID: id, Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClose(conn, cancel)

	// Only this goroutine writes to conn.
	var writeErr error
	rec := h.rec.With(recovery.WithObserver(func(ev transform.Event) {
		if writeErr != nil {
			return
		}
		writeErr = h.send(conn, StreamMessage{
			Type:  "step",
			ID:    id,
			Phase: ev.Phase.String(),
			Step:  ev.Step,
			Round: ev.Round,
			Nodes: ev.Nodes,
		})
		if writeErr != nil {
			cancel()
		}
	}))

	res, err := h.run(ctx, rec, req)
	if err != nil {
		if errors.Is(err, context.Canceled) && writeErr != nil {
			return
		}
		h.log.Warn("recovery %s failed: %v", id, err)
		h.send(conn, StreamMessage{Type: "error", ID: id, Error: err.Error()})
		return
	}
	resp := response(id, res)
	h.send(conn, StreamMessage{Type: "result", ID: id, Result: &resp})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Handler) send(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			h.log.Debug("write message to ws: %v", err)
		}
		return err
	}
	return nil
}

// watchClose cancels the run once the client goes away. Frames sent after the
// request are discarded.
func watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
