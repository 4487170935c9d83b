package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyboard/internal/story/model"
	"storyboard/internal/story/repository"
)

// Store is the set of ownership-scoped story operations.
type Store interface {
	Create(ctx context.Context, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error)
	Update(ctx context.Context, id, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error)
	Get(ctx context.Context, id, userID string) (*model.Story, error)
	List(ctx context.Context, userID string) ([]model.StoryListEntry, error)
	Delete(ctx context.Context, id, userID string) error
	Duplicate(ctx context.Context, id, userID string) (*model.Story, error)
}

// Repository is the table client StoryService writes through.
type Repository interface {
	Configured() bool
	Insert(ctx context.Context, s *model.Story) (*model.Story, error)
	UpdateWhere(ctx context.Context, c repository.Changes, f repository.Filter) (*model.Story, error)
	SelectOne(ctx context.Context, f repository.Filter) (*model.Story, error)
	SelectWhere(ctx context.Context, f repository.Filter, o repository.Order) ([]model.StoryListEntry, error)
	DeleteWhere(ctx context.Context, f repository.Filter) (int64, error)
}

var _ Store = (*StoryService)(nil)

type StoryService struct {
	Repo Repository
	now  func() time.Time
}

func NewStoryService(repo Repository) *StoryService {
	return &StoryService{Repo: repo, now: time.Now}
}

// check runs on every call; the backend may be attached or detached between calls.
func (s *StoryService) check(userID string) error {
	if s.Repo == nil || !s.Repo.Configured() {
		return model.ErrBackendUnavailable
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("missing user id: %w", model.ErrInvalidInput)
	}
	return nil
}

func (s *StoryService) Create(ctx context.Context, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error) {
	if err := s.check(userID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return s.Repo.Insert(ctx, &model.Story{
		ID:        uuid.NewString(),
		Title:     titleOrDefault(title),
		Project:   project,
		Blocks:    blocksOrEmpty(blocks),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (s *StoryService) Update(ctx context.Context, id, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error) {
	if err := s.check(userID); err != nil {
		return nil, err
	}
	if id == "" || model.IsDemo(id) {
		return nil, model.ErrNotFound
	}
	return s.Repo.UpdateWhere(ctx, repository.Changes{
		Title:     titleOrDefault(title),
		Project:   project,
		Blocks:    blocksOrEmpty(blocks),
		UpdatedAt: s.now().UTC(),
	}, repository.Filter{ID: id, UserID: userID})
}

func (s *StoryService) Get(ctx context.Context, id, userID string) (*model.Story, error) {
	if err := s.check(userID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, model.ErrNotFound
	}
	return s.Repo.SelectOne(ctx, repository.Filter{ID: id, UserID: userID})
}

// List returns the user's stories, most recently updated first.
func (s *StoryService) List(ctx context.Context, userID string) ([]model.StoryListEntry, error) {
	if err := s.check(userID); err != nil {
		return nil, err
	}
	entries, err := s.Repo.SelectWhere(ctx, repository.Filter{UserID: userID}, repository.UpdatedDesc)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.StoryListEntry{}
	}
	return entries, nil
}

// Delete is idempotent: a missing or foreign id is reported as success.
func (s *StoryService) Delete(ctx context.Context, id, userID string) error {
	if err := s.check(userID); err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_, err := s.Repo.DeleteWhere(ctx, repository.Filter{ID: id, UserID: userID})
	return err
}

func (s *StoryService) Duplicate(ctx context.Context, id, userID string) (*model.Story, error) {
	src, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, src.Title+model.CopySuffix, src.Project, src.Blocks, userID)
}

func titleOrDefault(title string) string {
	if strings.TrimSpace(title) == "" {
		return model.DefaultTitle
	}
	return title
}

func blocksOrEmpty(blocks []json.RawMessage) []json.RawMessage {
	if blocks == nil {
		return []json.RawMessage{}
	}
	return blocks
}
