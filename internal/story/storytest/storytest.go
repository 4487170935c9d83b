// Package storytest provides in-memory fakes for story storage tests.
package storytest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"storyboard/internal/story/model"
	"storyboard/internal/story/repository"
	"storyboard/internal/story/service"
)

// MemoryRepository is an in-memory stand-in for the stories table.
type MemoryRepository struct {
	mu      sync.Mutex
	rows    map[string]model.Story
	offline bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[string]model.Story{}}
}

// SetOffline makes Configured report false until called again with false.
func (m *MemoryRepository) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *MemoryRepository) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.offline
}

func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MemoryRepository) Insert(_ context.Context, s *model.Story) (*model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ID] = clone(*s)
	out := clone(*s)
	return &out, nil
}

func (m *MemoryRepository) UpdateWhere(_ context.Context, c repository.Changes, f repository.Filter) (*model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[f.ID]
	if !ok || !matches(s, f) {
		return nil, model.ErrNotFound
	}
	s.Title, s.Project, s.Blocks, s.UpdatedAt = c.Title, c.Project, c.Blocks, c.UpdatedAt
	m.rows[f.ID] = clone(s)
	out := clone(s)
	return &out, nil
}

func (m *MemoryRepository) SelectOne(_ context.Context, f repository.Filter) (*model.Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if matches(s, f) {
			out := clone(s)
			return &out, nil
		}
	}
	return nil, model.ErrNotFound
}

func (m *MemoryRepository) SelectWhere(_ context.Context, f repository.Filter, o repository.Order) ([]model.StoryListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := []model.StoryListEntry{}
	for _, s := range m.rows {
		if matches(s, f) {
			entries = append(entries, s.Entry())
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if o == repository.UpdatedAsc {
			return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries, nil
}

func (m *MemoryRepository) DeleteWhere(_ context.Context, f repository.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.rows {
		if matches(s, f) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func matches(s model.Story, f repository.Filter) bool {
	return (f.ID == "" || s.ID == f.ID) && (f.UserID == "" || s.UserID == f.UserID)
}

func clone(s model.Story) model.Story {
	s.Blocks = append([]json.RawMessage{}, s.Blocks...)
	return s
}

// Store records calls made to an in-memory StoryService and lets tests fail
// or stall the next call.
type Store struct {
	Repo  *MemoryRepository
	inner *service.StoryService

	mu    sync.Mutex
	calls []string
	fail  map[string]error
	gate  chan struct{}
}

var _ service.Store = (*Store)(nil)

func NewStore() *Store {
	repo := NewMemoryRepository()
	return &Store{Repo: repo, inner: service.NewStoryService(repo), fail: map[string]error{}}
}

// FailNext makes the next call to op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// Block stalls every call until the returned release func runs.
func (s *Store) Block() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns the operation names invoked so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Store) Count(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (s *Store) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	err := s.fail[op]
	delete(s.fail, op)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Store) Create(ctx context.Context, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error) {
	if err := s.enter(ctx, "create"); err != nil {
		return nil, err
	}
	return s.inner.Create(ctx, title, project, blocks, userID)
}

func (s *Store) Update(ctx context.Context, id, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error) {
	if err := s.enter(ctx, "update"); err != nil {
		return nil, err
	}
	return s.inner.Update(ctx, id, title, project, blocks, userID)
}

func (s *Store) Get(ctx context.Context, id, userID string) (*model.Story, error) {
	if err := s.enter(ctx, "get"); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, id, userID)
}

func (s *Store) List(ctx context.Context, userID string) ([]model.StoryListEntry, error) {
	if err := s.enter(ctx, "list"); err != nil {
		return nil, err
	}
	return s.inner.List(ctx, userID)
}

func (s *Store) Delete(ctx context.Context, id, userID string) error {
	if err := s.enter(ctx, "delete"); err != nil {
		return err
	}
	return s.inner.Delete(ctx, id, userID)
}

func (s *Store) Duplicate(ctx context.Context, id, userID string) (*model.Story, error) {
	if err := s.enter(ctx, "duplicate"); err != nil {
		return nil, err
	}
	return s.inner.Duplicate(ctx, id, userID)
}

// Seed inserts a story directly, bypassing call recording.
func (s *Store) Seed(userID, title string, updatedAt time.Time) *model.Story {
	st, _ := s.inner.Create(context.Background(), title, "", nil, userID)
	st.UpdatedAt = updatedAt
	s.Repo.mu.Lock()
	s.Repo.rows[st.ID] = clone(*st)
	s.Repo.mu.Unlock()
	return st
}
