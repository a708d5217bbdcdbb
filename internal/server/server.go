// Package server is the WebSocket edge: handshake auth, the per-connection
// read loop, and routing of client frames into the lobby and game layers.
package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/quietpawn/arena/internal/auth"
	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/lobby"
	"github.com/quietpawn/arena/internal/msgcat"
	"github.com/quietpawn/arena/internal/obslog"
	"github.com/quietpawn/arena/pkg/wire"
)

type Server struct {
	verifier *auth.Verifier
	conns    *lobby.ConnRegistry
	queue    *lobby.Queue
	resolver *lobby.Resolver
	registry *game.Registry
	cat      *msgcat.Catalog

	allowedOrigins []string
}

type Deps struct {
	Verifier *auth.Verifier
	Conns    *lobby.ConnRegistry
	Queue    *lobby.Queue
	Resolver *lobby.Resolver
	Registry *game.Registry
	Catalog  *msgcat.Catalog

	AllowedOrigins []string
}

func New(d Deps) *Server {
	return &Server{
		verifier:       d.Verifier,
		conns:          d.Conns,
		queue:          d.Queue,
		resolver:       d.Resolver,
		registry:       d.Registry,
		cat:            d.Catalog,
		allowedOrigins: d.AllowedOrigins,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.allowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Debug("ws_accept_error", zap.Error(err))
		return
	}

	// Auth happens after the upgrade so the client gets a WS close code
	// instead of an opaque handshake failure.
	token := r.URL.Query().Get("token")
	identity, err := s.verifier.Verify(token)
	if err != nil {
		obslog.L().Info("ws_auth_rejected", zap.Error(err))
		_ = ws.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	conn := newWSConn(identity, ws)
	s.conns.Bind(identity, conn)
	obslog.L().Info("ws_connected",
		zap.String("identity", identity),
		zap.String("conn_id", conn.ID()),
	)

	ctx := r.Context()
	s.resolver.Resolve(ctx, identity, conn)

	s.readLoop(ctx, conn, ws)

	s.conns.Unbind(conn)
	s.queue.Withdraw(conn)
	s.registry.DropSpectator(conn)
	obslog.L().Info("ws_disconnected",
		zap.String("identity", identity),
		zap.String("conn_id", conn.ID()),
	)
}

func (s *Server) readLoop(ctx context.Context, conn *wsConn, ws *websocket.Conn) {
	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				obslog.L().Debug("ws_read_error",
					zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, conn, env)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *wsConn, env wire.Envelope) {
	switch env.Type {
	case wire.TypeInitGame:
		s.queue.Enqueue(conn.Identity(), conn)

	case wire.TypeMove:
		mv, err := wire.DecodeMove(env.Payload)
		if err != nil {
			s.sendError(conn, s.cat.Get("protocol.bad_payload"))
			return
		}
		if sess := s.registry.FindByConn(conn); sess != nil {
			sess.ApplyMove(conn, mv)
		}
		// A move without a live session is dropped silently: the sender
		// is either stale or probing.

	case wire.TypeAbandonGame:
		if sess := s.registry.FindByConn(conn); sess != nil {
			sess.Abandon(conn)
			return
		}
		s.resolver.AbandonOrphaned(ctx, conn.Identity(), conn)

	case wire.TypeSpectate:
		matchID, err := wire.DecodeSpectate(env.Payload)
		if err != nil {
			s.sendError(conn, s.cat.Get("protocol.bad_payload"))
			return
		}
		if sess := s.registry.Get(matchID); sess != nil {
			sess.AddSpectator(conn)
		}

	default:
		s.sendError(conn, s.cat.Get("protocol.unknown_type"))
	}
}

func (s *Server) sendError(conn *wsConn, msg string) {
	env := wire.MustEnvelope(wire.TypeError, wire.ErrorPayload{Message: msg})
	if err := conn.Send(env); err != nil {
		obslog.L().Debug("ws_send_error", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
}
