package server

import (
	"context"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ryoh/typerank/internal/auth"
	"github.com/ryoh/typerank/internal/leaderboard"
	"github.com/ryoh/typerank/internal/policy"
	"github.com/ryoh/typerank/internal/realtime"
	"github.com/ryoh/typerank/internal/storage"
	"github.com/ryoh/typerank/internal/typing"
)

// Transport-level credential bounds. Everything deeper is validated by
// the store.
const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 8
)

// userView is the public projection of an account.
type userView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u *typing.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

// contestView is a contest as clients see it: the join code is redacted,
// replaced by a flag, and the schedule position is precomputed.
type contestView struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Description           string    `json:"description,omitempty"`
	Visibility            string    `json:"visibility"`
	RequiresJoinCode      bool      `json:"requiresJoinCode"`
	Status                string    `json:"status"`
	StartsAt              time.Time `json:"startsAt"`
	EndsAt                time.Time `json:"endsAt"`
	Timezone              string    `json:"timezone"`
	TimeLimitSec          int       `json:"timeLimitSec"`
	MaxAttempts           int       `json:"maxAttempts"`
	AllowBackspace        bool      `json:"allowBackspace"`
	LeaderboardVisibility string    `json:"leaderboardVisibility"`
	Language              string    `json:"language"`
	CreatedAt             time.Time `json:"createdAt"`
}

func newContestView(c *typing.Contest, now time.Time) contestView {
	return contestView{
		ID:                    c.ID,
		Title:                 c.Title,
		Description:           c.Description,
		Visibility:            string(c.Visibility),
		RequiresJoinCode:      policy.RequiresJoinCode(c),
		Status:                string(policy.Status(c, now)),
		StartsAt:              c.StartsAt,
		EndsAt:                c.EndsAt,
		Timezone:              c.Timezone,
		TimeLimitSec:          c.TimeLimitSec,
		MaxAttempts:           c.MaxAttempts,
		AllowBackspace:        c.AllowBackspace,
		LeaderboardVisibility: string(c.LeaderboardVisibility),
		Language:              string(c.Language),
		CreatedAt:             c.CreatedAt,
	}
}

type promptView struct {
	ID           string    `json:"id"`
	Language     string    `json:"language"`
	DisplayText  string    `json:"displayText"`
	TypingTarget string    `json:"typingTarget"`
	Tags         []string  `json:"tags,omitempty"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newPromptView(p *typing.Prompt) promptView {
	return promptView{
		ID:           p.ID,
		Language:     string(p.Language),
		DisplayText:  p.DisplayText,
		TypingTarget: p.TypingTarget,
		Tags:         p.Tags,
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt,
	}
}

type entryView struct {
	ContestID         string    `json:"contestId"`
	UserID            string    `json:"userId"`
	AttemptsUsed      int       `json:"attemptsUsed"`
	AttemptsRemaining int       `json:"attemptsRemaining"`
	BestScore         *int64    `json:"bestScore,omitempty"`
	BestCPM           *float64  `json:"bestCpm,omitempty"`
	BestAccuracy      *float64  `json:"bestAccuracy,omitempty"`
	JoinedAt          time.Time `json:"joinedAt"`
}

type startView struct {
	SessionID         string     `json:"sessionId"`
	Prompt            promptView `json:"prompt"`
	StartedAt         time.Time  `json:"startedAt"`
	AttemptsUsed      int        `json:"attemptsUsed"`
	AttemptsRemaining int        `json:"attemptsRemaining"`
	TimeLimitSec      int        `json:"timeLimitSec"`
}

type finishView struct {
	SessionID    string    `json:"sessionId"`
	Status       string    `json:"status"`
	CPM          float64   `json:"cpm"`
	WPM          float64   `json:"wpm"`
	Accuracy     float64   `json:"accuracy"`
	Score        int64     `json:"score"`
	Issues       []string  `json:"issues"`
	BestUpdated  bool      `json:"bestUpdated"`
	AttemptsUsed int       `json:"attemptsUsed"`
	EndedAt      time.Time `json:"endedAt"`
}

type tokenResponse struct {
	User   userView       `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if len(req.Username) < minUsernameLen || len(req.Username) > maxUsernameLen ||
		len(req.Password) < minPasswordLen {
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	user := &typing.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.renderError(w, r, err)
		return
	}

	pair, err := s.auth.IssueTokens(r.Context(), user)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, tokenResponse{User: newUserView(user), Tokens: pair})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		// Unknown account and wrong password are indistinguishable.
		if typing.KindOf(err) == typing.KindNotFound {
			err = typing.ValidationError(typing.ReasonBadCredentials)
		}
		s.renderError(w, r, err)
		return
	}
	if err := s.auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		s.renderError(w, r, err)
		return
	}

	pair, err := s.auth.IssueTokens(r.Context(), user)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{User: newUserView(user), Tokens: pair})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if req.RefreshToken == "" {
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}

	rotation, err := s.auth.RotateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	user, err := s.store.GetUser(r.Context(), rotation.UserID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	access, err := s.auth.IssueAccessToken(user)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		User: newUserView(user),
		Tokens: auth.TokenPair{
			AccessToken:     access,
			RefreshToken:    rotation.RefreshToken,
			AccessExpiresIn: int64(s.auth.AccessTTL().Seconds()),
		},
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)

	var req struct {
		RefreshToken string `json:"refreshToken"`
		All          bool   `json:"all"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	switch {
	case req.All:
		n, err := s.auth.RevokeAll(r.Context(), principal.UserID)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		s.logger.Debug("revoked refresh tokens", "user_id", principal.UserID, "count", n)
	case req.RefreshToken != "":
		if err := s.auth.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
			s.renderError(w, r, err)
			return
		}
	default:
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListContests(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)

	contests, err := s.store.ListContests(r.Context(), storage.ContestQuery{
		IncludePrivate: principal.Admin(),
		Limit:          queryInt(r, "limit", 0),
		Offset:         queryInt(r, "offset", 0),
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	now := s.now()
	views := make([]contestView, 0, len(contests))
	for i := range contests {
		views = append(views, newContestView(&contests[i], now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"contests": views})
}

func (s *Server) handleGetContest(w http.ResponseWriter, r *http.Request) {
	contest, err := s.store.GetContest(r.Context(), chi.URLParam(r, "contestID"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newContestView(contest, s.now()))
}

func (s *Server) handleCreateContest(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)

	var req struct {
		Title                 string    `json:"title"`
		Description           string    `json:"description"`
		Visibility            string    `json:"visibility"`
		JoinCode              string    `json:"joinCode"`
		StartsAt              time.Time `json:"startsAt"`
		EndsAt                time.Time `json:"endsAt"`
		Timezone              string    `json:"timezone"`
		TimeLimitSec          int       `json:"timeLimitSec"`
		MaxAttempts           int       `json:"maxAttempts"`
		AllowBackspace        bool      `json:"allowBackspace"`
		LeaderboardVisibility string    `json:"leaderboardVisibility"`
		Language              string    `json:"language"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	// Enum values are CHECK-constrained in the schema; reject unknown
	// ones here so they surface as VALIDATION, not a driver error.
	if !validEnum(req.Visibility, string(typing.VisibilityPublic), string(typing.VisibilityPrivate)) ||
		!validEnum(req.LeaderboardVisibility,
			string(typing.LeaderboardDuring), string(typing.LeaderboardAfter), string(typing.LeaderboardHidden)) {
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}

	contest := &typing.Contest{
		Title:                 strings.TrimSpace(req.Title),
		Description:           req.Description,
		Visibility:            typing.Visibility(req.Visibility),
		StartsAt:              req.StartsAt,
		EndsAt:                req.EndsAt,
		Timezone:              req.Timezone,
		TimeLimitSec:          req.TimeLimitSec,
		MaxAttempts:           req.MaxAttempts,
		AllowBackspace:        req.AllowBackspace,
		LeaderboardVisibility: typing.LeaderboardVisibility(req.LeaderboardVisibility),
		Language:              typing.Language(req.Language),
		CreatedBy:             principal.UserID,
		CreatedAt:             s.now().UTC(),
	}
	if req.JoinCode != "" {
		contest.JoinCode = &req.JoinCode
	}

	if err := s.store.CreateContest(r.Context(), contest); err != nil {
		s.renderError(w, r, err)
		return
	}

	s.logger.Info("contest created",
		"contest_id", contest.ID,
		"title", contest.Title,
		"visibility", contest.Visibility,
		"created_by", principal.UserID,
	)
	writeJSON(w, http.StatusCreated, newContestView(contest, s.now()))
}

func (s *Server) handleDeleteContest(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")
	if err := s.store.DeleteContest(r.Context(), contestID); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.fanout.Hub().Remove(contestID)
	s.logger.Info("contest deleted", "contest_id", contestID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetContestPrompts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PromptIDs []string `json:"promptIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}
	if len(req.PromptIDs) == 0 {
		s.renderError(w, r, typing.ValidationError(typing.ReasonBadPayload))
		return
	}

	contestID := chi.URLParam(r, "contestID")
	if err := s.store.SetContestPrompts(r.Context(), contestID, req.PromptIDs); err != nil {
		s.renderError(w, r, err)
		return
	}
	s.logger.Info("contest prompts set", "contest_id", contestID, "count", len(req.PromptIDs))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language     string   `json:"language"`
		DisplayText  string   `json:"displayText"`
		TypingTarget string   `json:"typingTarget"`
		Tags         []string `json:"tags"`
		IsActive     *bool    `json:"isActive"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.renderError(w, r, err)
		return
	}

	prompt := &typing.Prompt{
		Language:     typing.Language(req.Language),
		DisplayText:  req.DisplayText,
		TypingTarget: req.TypingTarget,
		Tags:         req.Tags,
		IsActive:     req.IsActive == nil || *req.IsActive,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreatePrompt(r.Context(), prompt); err != nil {
		s.renderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPromptView(prompt))
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.store.ListPrompts(r.Context(), storage.PromptQuery{
		Language:   typing.Language(r.URL.Query().Get("language")),
		ActiveOnly: r.URL.Query().Get("active") == "true",
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	views := make([]promptView, 0, len(prompts))
	for i := range prompts {
		views = append(views, newPromptView(&prompts[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": views})
}

func (s *Server) handleJoinContest(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)

	var req struct {
		JoinCode string `json:"joinCode"`
	}
	// The body is optional for public contests.
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.renderError(w, r, err)
			return
		}
	}

	contestID := chi.URLParam(r, "contestID")
	entry, err := s.store.JoinContest(r.Context(), contestID, principal.UserID, req.JoinCode, s.now())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	contest, err := s.store.GetContest(r.Context(), contestID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entryView{
		ContestID:         entry.ContestID,
		UserID:            entry.UserID,
		AttemptsUsed:      entry.AttemptsUsed,
		AttemptsRemaining: policy.RemainingAttempts(contest, entry),
		BestScore:         entry.BestScore,
		BestCPM:           entry.BestCPM,
		BestAccuracy:      entry.BestAccuracy,
		JoinedAt:          entry.JoinedAt,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)
	contestID := chi.URLParam(r, "contestID")

	res, err := s.store.StartSession(r.Context(), contestID, principal.UserID, s.now())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	contest, err := s.store.GetContest(r.Context(), contestID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	s.metrics.SessionsStarted.Inc()
	s.logger.Debug("session started",
		"session_id", res.SessionID,
		"contest_id", contestID,
		"user_id", principal.UserID,
		"attempt", res.AttemptsUsed,
	)

	writeJSON(w, http.StatusCreated, startView{
		SessionID:         res.SessionID,
		Prompt:            newPromptView(&res.Prompt),
		StartedAt:         res.StartedAt,
		AttemptsUsed:      res.AttemptsUsed,
		AttemptsRemaining: res.AttemptsRemaining,
		TimeLimitSec:      contest.TimeLimitSec,
	})
}

func (s *Server) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)

	var payload typing.FinishPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.renderError(w, r, err)
		return
	}

	now := s.now()
	res, err := s.store.FinishSession(r.Context(), chi.URLParam(r, "sessionID"), principal.UserID, &payload, now)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	s.metrics.SessionsFinished.WithLabelValues(string(res.Status)).Inc()
	s.logger.Info("session finished",
		"session_id", res.SessionID,
		"contest_id", res.ContestID,
		"user_id", principal.UserID,
		"status", res.Status,
		"score", res.Stats.Score,
		"best_updated", res.BestUpdated,
	)

	// Fan the refreshed standings out after the commit; failures are the
	// publisher's problem, never this request's. The commit already
	// happened, so a client hangup must not suppress the publish.
	s.publishLeaderboard(context.WithoutCancel(r.Context()), res.ContestID, now)

	issues := make([]string, 0, len(res.Issues))
	for _, issue := range res.Issues {
		issues = append(issues, string(issue))
	}

	writeJSON(w, http.StatusOK, finishView{
		SessionID:    res.SessionID,
		Status:       string(res.Status),
		CPM:          res.Stats.CPM,
		WPM:          res.Stats.WPM,
		Accuracy:     res.Stats.Accuracy,
		Score:        res.Stats.Score,
		Issues:       issues,
		BestUpdated:  res.BestUpdated,
		AttemptsUsed: res.AttemptsUsed,
		EndedAt:      res.EndedAt,
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r)
	contestID := chi.URLParam(r, "contestID")

	contest, err := s.store.GetContest(r.Context(), contestID)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	now := s.now()
	if !policy.LeaderboardVisible(contest, now) && !principal.Admin() {
		s.renderError(w, r, typing.ValidationError(typing.ReasonLeaderboardHidden))
		return
	}

	// Fetch up to the hard cap so the personal rank is computed over the
	// whole (bounded) board, then cut the response down to the requested
	// page size.
	rows, err := s.store.LeaderboardRows(r.Context(), contestID, s.cfg.Leaderboard.MaxLimit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	ranked, summary := leaderboard.Build(rows)

	limit := queryInt(r, "limit", s.cfg.Leaderboard.DefaultLimit)
	if limit > s.cfg.Leaderboard.MaxLimit {
		limit = s.cfg.Leaderboard.MaxLimit
	}
	if limit > len(ranked) {
		limit = len(ranked)
	}

	standings := make([]realtime.Standing, 0, limit)
	for _, rr := range ranked[:limit] {
		standings = append(standings, realtime.NewStanding(rr))
	}

	resp := struct {
		ContestID   string              `json:"contestId"`
		GeneratedAt time.Time           `json:"generatedAt"`
		Standings   []realtime.Standing `json:"standings"`
		Total       int                 `json:"total"`
		Me          *realtime.Standing  `json:"me,omitempty"`
	}{
		ContestID:   contestID,
		GeneratedAt: now.UTC(),
		Standings:   standings,
		Total:       summary.Total,
	}
	if principal.UserID != "" {
		if rr, ok := leaderboard.PersonalRank(ranked, principal.UserID); ok {
			me := realtime.NewStanding(rr)
			resp.Me = &me
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// publishLeaderboard rebuilds the standings and hands them to the fan-out,
// but only while the contest's ranking is visible. Best-effort: every
// failure is logged and dropped.
func (s *Server) publishLeaderboard(ctx context.Context, contestID string, now time.Time) {
	contest, err := s.store.GetContest(ctx, contestID)
	if err != nil {
		s.logger.Warn("failed to load contest for publish", "contest_id", contestID, "error", err)
		return
	}
	if !policy.LeaderboardVisible(contest, now) {
		return
	}

	rows, err := s.store.LeaderboardRows(ctx, contestID, s.cfg.Leaderboard.MaxLimit)
	if err != nil {
		s.logger.Warn("failed to load leaderboard for publish", "contest_id", contestID, "error", err)
		return
	}
	_, summary := leaderboard.Build(rows)

	s.fanout.Publish(ctx, realtime.NewSnapshot(contestID, summary, now))
}

// queryInt parses an integer query parameter, returning def when the
// parameter is absent or unusable.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// validEnum reports whether value is empty (defaulted downstream) or one
// of the allowed literals.
func validEnum(value string, allowed ...string) bool {
	if value == "" {
		return true
	}
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
