package web

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"

	"domator-go/internal/hub"
	"domator-go/internal/mesh"
)

const wsReadLimit = 64 << 10

// wsSink delivers hub messages over one websocket connection.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSink) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// handleWS subscribes a websocket client to ch. The trailing path segment
// is a client id used only for logging.
func (s *Server) handleWS(ch hub.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := &websocket.AcceptOptions{}
		if len(s.allowedOrigins) > 0 {
			opts.OriginPatterns = s.allowedOrigins
		}
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			s.logger.Error("ws accept", "channel", ch, "err", err)
			return
		}
		conn.SetReadLimit(wsReadLimit)

		sub, err := s.hub.Subscribe(&wsSink{conn: conn}, ch)
		if err != nil {
			conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		}
		defer s.hub.Unsubscribe(sub)
		s.logger.Debug("ws client connected", "channel", ch, "client", r.PathValue("client"), "id", sub.ID)

		s.router.OnSubscribe(sub)
		s.wsReadPump(conn, sub)
	}
}

// wsReadPump executes client commands until the connection or the
// subscription ends.
func (s *Server) wsReadPump(conn *websocket.Conn, sub *hub.Subscriber) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sub.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := s.router.HandleClientMessage(sub, data); err != nil {
			s.logger.Debug("client command rejected", "channel", sub.Channel, "err", err)
			s.hub.SendDirect(sub, mesh.ErrorReply{Type: "error", Error: err.Error()})
		}
	}
}
