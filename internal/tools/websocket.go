package tools

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/apto-as/tmws/internal/tmwserr"
)

// wsUpgrader mirrors the teacher pack's gorilla/websocket usage
// (becomeliminal-nim-go-sdk): no origin check beyond the default, since
// the reverse proxy/TLS boundary is out of scope per spec.md's Non-goals.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// MaxFrameBytes bounds one WebSocket JSON frame, per spec.md §5's
// 1 MiB max-frame resource cap.
const MaxFrameBytes = 1 << 20

// HandleWebSocket upgrades an HTTP request to a WebSocket connection at
// /ws/mcp and serves the session for its lifetime: one goroutine reads
// frames and dispatches them, one goroutine owns the write side, matching
// the read/write pump split of original_source/tmws/server/handlers/
// mcp_websocket.py and mcp_ws_client.py.
func (r *Router) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(MaxFrameBytes)

	sessionID := uuid.NewString()
	r.sessions.Open(sessionID)
	defer r.sessions.CloseSession(sessionID)

	outbox := make(chan Response, 16)
	done := make(chan struct{})
	go r.wsWritePump(conn, outbox, done)
	r.wsReadPump(req.Context(), conn, sessionID, outbox)
	close(outbox)
	<-done
}

func (r *Router) wsReadPump(ctx context.Context, conn *websocket.Conn, sessionID string, outbox chan<- Response) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Printf("session %s: websocket read error: %v", sessionID, err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			outbox <- errorResponse("", tmwserr.Validation("malformed frame: %v", err))
			continue
		}
		outbox <- r.Dispatch(ctx, sessionID, req)
	}
}

func (r *Router) wsWritePump(conn *websocket.Conn, outbox <-chan Response, done chan<- struct{}) {
	defer close(done)
	for resp := range outbox {
		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			r.logger.Printf("websocket write error: %v", err)
			return
		}
	}
}
