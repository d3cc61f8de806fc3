package server

import (
	"context"
	"time"
)

// janitorLoop periodically expires abandoned running sessions and prunes
// dead refresh tokens.
func (s *Server) janitorLoop(ctx context.Context) {
	defer s.wg.Done()

	// Sweep on startup to clear anything left over from a crash.
	s.sweep(ctx)

	ticker := time.NewTicker(time.Duration(s.cfg.Janitor.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one janitor pass. Sessions expired here terminalize exactly
// like a client-reported timeout, so a swept contest's standings never
// change (expired attempts do not rank).
func (s *Server) sweep(ctx context.Context) {
	now := s.now()

	swept, err := s.store.ExpireStaleSessions(ctx, now)
	if err != nil {
		s.logger.Warn("failed to expire stale sessions", "error", err)
	} else if swept > 0 {
		s.metrics.SessionsSwept.Add(float64(swept))
		s.logger.Info("expired stale sessions", "count", swept)
	}

	pruned, err := s.store.PruneExpiredRefreshTokens(ctx, now)
	if err != nil {
		s.logger.Warn("failed to prune refresh tokens", "error", err)
	} else if pruned > 0 {
		s.metrics.TokensPruned.Add(float64(pruned))
		s.logger.Info("pruned expired refresh tokens", "count", pruned)
	}
}
