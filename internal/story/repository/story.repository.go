package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyboard/internal/story/model"
	"storyboard/pkg/logger"
)

const (
	storyColumns = "id, user_id, title, project, blocks, created_at, updated_at"
	entryColumns = "id, title, project, created_at, updated_at"
)

// Backend supplies the current pool. Configured is checked before every
// statement because the pool can be detached while the process runs.
type Backend interface {
	DB() *sql.DB
	Configured() bool
}

// Filter holds equality predicates. Empty fields are not constrained.
type Filter struct {
	ID     string
	UserID string
}

func (f Filter) empty() bool {
	return f.ID == "" && f.UserID == ""
}

// where compiles f into a WHERE clause whose placeholders start at $offset+1.
func (f Filter) where(offset int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ID != "" {
		args = append(args, f.ID)
		conds = append(conds, fmt.Sprintf("id = $%d", offset+len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", offset+len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type Order int

const (
	Unordered Order = iota
	UpdatedAsc
	UpdatedDesc
)

func (o Order) clause() string {
	switch o {
	case UpdatedAsc:
		return " ORDER BY updated_at ASC"
	case UpdatedDesc:
		return " ORDER BY updated_at DESC"
	default:
		return ""
	}
}

// Changes are the columns an update may touch.
type Changes struct {
	Title     string
	Project   string
	Blocks    []json.RawMessage
	UpdatedAt time.Time
}

// StoryRepository is a table client for "stories".
type StoryRepository struct {
	backend Backend
}

func NewStoryRepository(backend Backend) *StoryRepository {
	return &StoryRepository{backend: backend}
}

func (r *StoryRepository) Configured() bool {
	return r.backend != nil && r.backend.Configured()
}

func (r *StoryRepository) db() (*sql.DB, error) {
	if !r.Configured() {
		return nil, model.ErrBackendUnavailable
	}
	db := r.backend.DB()
	if db == nil {
		return nil, model.ErrBackendUnavailable
	}
	return db, nil
}

func (r *StoryRepository) Insert(ctx context.Context, s *model.Story) (*model.Story, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	blocks, err := encodeBlocks(s.Blocks)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx,
		`INSERT INTO stories (`+storyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+storyColumns,
		s.ID, s.UserID, s.Title, s.Project, blocks, s.CreatedAt, s.UpdatedAt)
	stored, err := scanStory(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to insert story for user %s: %v", s.UserID, err)
		return nil, fmt.Errorf("insert story: %w", err)
	}
	return stored, nil
}

// UpdateWhere applies c to the single row matching f. No match is ErrNotFound.
func (r *StoryRepository) UpdateWhere(ctx context.Context, c Changes, f Filter) (*model.Story, error) {
	if f.empty() {
		return nil, fmt.Errorf("unscoped update: %w", model.ErrInvalidInput)
	}
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	blocks, err := encodeBlocks(c.Blocks)
	if err != nil {
		return nil, err
	}
	where, args := f.where(4)
	query := `UPDATE stories SET title = $1, project = $2, blocks = $3, updated_at = $4` + where + ` RETURNING ` + storyColumns
	row := db.QueryRowContext(ctx, query, append([]any{c.Title, c.Project, blocks, c.UpdatedAt}, args...)...)
	stored, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to update story %s: %v", f.ID, err)
		return nil, fmt.Errorf("update story: %w", err)
	}
	return stored, nil
}

// SelectOne returns the row matching f, or ErrNotFound.
func (r *StoryRepository) SelectOne(ctx context.Context, f Filter) (*model.Story, error) {
	if f.empty() {
		return nil, fmt.Errorf("unscoped select: %w", model.ErrInvalidInput)
	}
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	where, args := f.where(0)
	row := db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories`+where+` LIMIT 1`, args...)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get story %s: %v", f.ID, err)
		return nil, fmt.Errorf("select story: %w", err)
	}
	return s, nil
}

// SelectWhere lists entries matching f. The result is never nil.
func (r *StoryRepository) SelectWhere(ctx context.Context, f Filter, o Order) ([]model.StoryListEntry, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}
	where, args := f.where(0)
	rows, err := db.QueryContext(ctx, `SELECT `+entryColumns+` FROM stories`+where+o.clause(), args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to list stories for user %s: %v", f.UserID, err)
		return nil, fmt.Errorf("select stories: %w", err)
	}
	defer rows.Close()

	entries := []model.StoryListEntry{}
	for rows.Next() {
		var e model.StoryListEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Project, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan story entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return entries, nil
}

// DeleteWhere removes rows matching f and returns how many went away.
func (r *StoryRepository) DeleteWhere(ctx context.Context, f Filter) (int64, error) {
	if f.empty() {
		return 0, fmt.Errorf("unscoped delete: %w", model.ErrInvalidInput)
	}
	db, err := r.db()
	if err != nil {
		return 0, err
	}
	where, args := f.where(0)
	res, err := db.ExecContext(ctx, `DELETE FROM stories`+where, args...)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete story %s: %v", f.ID, err)
		return 0, fmt.Errorf("delete story: %w", err)
	}
	return res.RowsAffected()
}

func encodeBlocks(blocks []json.RawMessage) (string, error) {
	if blocks == nil {
		blocks = []json.RawMessage{}
	}
	b, err := json.Marshal(blocks)
	if err != nil {
		return "", fmt.Errorf("encode blocks: %w", err)
	}
	return string(b), nil
}

func scanStory(row *sql.Row) (*model.Story, error) {
	var (
		s      model.Story
		blocks []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.Project, &blocks, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Blocks = []json.RawMessage{}
	if len(blocks) > 0 {
		if err := json.Unmarshal(blocks, &s.Blocks); err != nil {
			return nil, fmt.Errorf("decode blocks: %w", err)
		}
	}
	return &s, nil
}
