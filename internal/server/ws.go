package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ryoh/typerank/internal/leaderboard"
	"github.com/ryoh/typerank/internal/policy"
	"github.com/ryoh/typerank/internal/realtime"
	"github.com/ryoh/typerank/internal/typing"
)

// WebSocket keepalive tuning. Pings must outpace the pong deadline or
// healthy idle connections get reaped.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 512
)

// checkWSOrigin mirrors the CORS allowlist for WebSocket dials. Requests
// without an Origin header are non-browser clients and pass.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleLeaderboardWS streams leaderboard snapshots for one contest. The
// access token rides in the query string; the same visibility gate as the
// REST leaderboard applies, admins bypassing it.
func (s *Server) handleLeaderboardWS(w http.ResponseWriter, r *http.Request) {
	principal, err := s.auth.VerifyAccessToken(bearerToken(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	contestID := chi.URLParam(r, "contestID")
	contest, err := s.store.GetContest(r.Context(), contestID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if !policy.LeaderboardVisible(contest, s.now()) && !principal.Admin() {
		s.renderError(w, r, typing.ValidationError(typing.ReasonLeaderboardHidden))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.logger.Debug("websocket upgrade failed", "contest_id", contestID, "error", err)
		return
	}
	defer conn.Close()

	s.metrics.WSConnections.Inc()
	defer s.metrics.WSConnections.Dec()

	snapshots, unsubscribe := s.fanout.Hub().Subscribe(contestID)
	defer unsubscribe()

	s.logger.Debug("websocket subscribed",
		"contest_id", contestID,
		"user_id", principal.UserID,
	)

	// First frame: the hub's replayed snapshot when one exists, otherwise
	// standings built fresh from the store.
	select {
	case snap, ok := <-snapshots:
		if !ok {
			return
		}
		if err := writeSnapshot(conn, snap); err != nil {
			return
		}
	default:
		if snap := s.currentSnapshot(r.Context(), contestID); snap != nil {
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		}
	}

	// Reader goroutine: the client sends nothing we care about, but the
	// connection must be read for pongs and closes to be processed.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				// Contest removed from the hub.
				writeClose(conn, websocket.CloseGoingAway, "contest removed")
				return
			}
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			return
		case <-s.shutdownChan:
			writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

// currentSnapshot builds a snapshot straight from the store, for the
// greeting frame of a fresh subscription.
func (s *Server) currentSnapshot(ctx context.Context, contestID string) *realtime.Snapshot {
	rows, err := s.store.LeaderboardRows(ctx, contestID, s.cfg.Leaderboard.MaxLimit)
	if err != nil {
		s.logger.Warn("failed to build greeting snapshot", "contest_id", contestID, "error", err)
		return nil
	}
	_, summary := leaderboard.Build(rows)
	return realtime.NewSnapshot(contestID, summary, s.now())
}

func writeSnapshot(conn *websocket.Conn, snap *realtime.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(snap)
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
}
