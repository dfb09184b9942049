package web

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/xpto/blot/internal/session"
)

// The service binds loopback only, so cross-origin checks stay open
// for local IDE panels served from file:// or another local port.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink serializes outgoing JSONRPC messages onto text frames, one
// message per frame.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(msg any) error {
	return s.conn.WriteJSON(msg)
}

// handleWS upgrades the connection and runs one Session over it. The
// session's context is canceled when the read loop ends; its caches die
// with the connection. Frames are dispatched synchronously on this
// loop, so a closed connection is noticed only after the current
// request has finished: a compile already in flight is not aborted by
// the disconnect and runs until it exits or hits the producer timeout.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := session.New(ctx, s.shared, &wsSink{conn: conn})
	s.log.Info("ws session started", "session", sess.ID())

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !sess.Dispatch(data) {
			break
		}
	}
	s.log.Info("ws session ended", "session", sess.ID())
}
