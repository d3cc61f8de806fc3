package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ryoh/typerank/internal/typing"
)

// Prompt sentinels.
var (
	ErrPromptNotFound = typing.NotFoundError(typing.ReasonPromptNotFound)
	ErrPromptInUse    = typing.ConflictError(typing.ReasonPromptInUse)
)

const promptColumns = `prompt_id, language, display_text, typing_target, tags, is_active, created_at_unix_ms`

// CreatePrompt inserts a prompt into the pool.
func (s *SQLiteStore) CreatePrompt(ctx context.Context, p *typing.Prompt) error {
	if p == nil {
		return errors.New("prompt cannot be nil")
	}
	if p.DisplayText == "" || p.TypingTarget == "" || !validLanguage(p.Language) {
		return typing.ValidationError(typing.ReasonBadPayload)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode prompt tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prompts (`+promptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, string(p.Language), p.DisplayText, p.TypingTarget, string(tags), p.IsActive, unixMs(p.CreatedAt))
	if err != nil {
		if isDuplicateKeyError(err) {
			return typing.ConflictError(typing.ReasonBadPayload)
		}
		return fmt.Errorf("failed to create prompt: %w", err)
	}
	return nil
}

// GetPrompt retrieves a prompt by ID.
func (s *SQLiteStore) GetPrompt(ctx context.Context, promptID string) (*typing.Prompt, error) {
	if promptID == "" {
		return nil, typing.ValidationError(typing.ReasonBadPayload)
	}
	return getPrompt(ctx, s.db, promptID)
}

// ListPrompts returns prompts newest first, optionally filtered by
// language and active state.
func (s *SQLiteStore) ListPrompts(ctx context.Context, q PromptQuery) ([]typing.Prompt, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT ` + promptColumns + ` FROM prompts WHERE 1=1`
	args := []any{}
	if q.Language != "" {
		query += ` AND language = ?`
		args = append(args, string(q.Language))
	}
	if q.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at_unix_ms DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []typing.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}
	return prompts, nil
}

// DeletePrompt removes a prompt. Prompts referenced by a contest pool or
// a recorded session cannot be deleted.
func (s *SQLiteStore) DeletePrompt(ctx context.Context, promptID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM prompts WHERE prompt_id = ?
	`, promptID)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrPromptInUse
		}
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrPromptNotFound
	}
	return nil
}

func getPrompt(ctx context.Context, q dbtx, promptID string) (*typing.Prompt, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+promptColumns+` FROM prompts WHERE prompt_id = ?
	`, promptID)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPromptNotFound
	}
	return p, err
}

func scanPrompt(row rowScanner) (*typing.Prompt, error) {
	var p typing.Prompt
	var tags string
	var createdAt int64
	err := row.Scan(&p.ID, &p.Language, &p.DisplayText, &p.TypingTarget, &tags, &p.IsActive, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prompt: %w", err)
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode prompt tags: %w", err)
		}
	}
	p.CreatedAt = msTime(createdAt)
	return &p, nil
}
