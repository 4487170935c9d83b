// Package session holds the per-user story editing state machine. It sits
// between the editor, the story store and the bundled demo, and it makes sure
// overlapping loads and saves never leave the editor showing stale or
// conflicting state.
package session

import (
	"context"
	"strings"
	"sync"

	"storyboard/internal/story/demo"
	"storyboard/internal/story/model"
	"storyboard/internal/story/service"
	"storyboard/pkg/logger"
)

// LoadMeta describes a document handed to the editor.
type LoadMeta struct {
	IsDemo  bool   `json:"is_demo"`
	StoryID string `json:"story_id"`
}

// Hooks connect a Session to its editor. Any hook may be nil except that a nil
// ConfirmDelete refuses every delete.
type Hooks struct {
	// OnLoad makes doc the active editor document.
	OnLoad func(doc model.Document, meta LoadMeta)
	// OnNew resets the editor to a blank document.
	OnNew func()
	// GetState returns the in-progress editor document. Called once per save.
	GetState func() model.Document
	// OnError surfaces a failed intent. Flags are already lowered when it runs.
	OnError func(err error)
	// ConfirmDelete is the yes/no gate in front of every delete.
	ConfirmDelete func(storyID string) bool
}

// State is an immutable snapshot handed to listeners.
type State struct {
	UserID         string                 `json:"user_id"`
	Stories        []model.StoryListEntry `json:"stories"`
	CurrentStoryID string                 `json:"current_story_id"`
	Loading        bool                   `json:"loading"`
	Saving         bool                   `json:"saving"`
	DemoMode       bool                   `json:"demo_mode"`
	Demo           model.StoryListEntry   `json:"demo"`
}

// Entries lists the demo first, then the user's stories.
func (s State) Entries() []model.StoryListEntry {
	return append([]model.StoryListEntry{s.Demo}, s.Stories...)
}

type Session struct {
	store service.Store
	demo  demo.Fetcher
	hooks Hooks

	mu    sync.Mutex
	state State
	// gen changes whenever the identity does; continuations from an older
	// generation drop their results.
	gen uint64
	// opening is set while Open owns the Loading flag. Saves and deletes are
	// refused until it clears.
	opening   bool
	listeners map[int]func(State)
	nextID    int
}

func New(store service.Store, fetcher demo.Fetcher, hooks Hooks) *Session {
	return &Session{
		store: store,
		demo:  fetcher,
		hooks: hooks,
		state: State{
			Stories: []model.StoryListEntry{},
			Demo:    model.DemoEntry(),
		},
		listeners: map[int]func(State){},
	}
}

// Subscribe registers fn for every state change and returns its unsubscribe func.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Stories = append([]model.StoryListEntry{}, s.state.Stories...)
	return st
}

// settle releases mu, reports err if any, runs then, and notifies listeners
// with the snapshot taken while mu was still held. mu must be held.
func (s *Session) settle(err error, then func()) {
	snap := s.snapshotLocked()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if err != nil {
		s.report(err)
	}
	if then != nil {
		then()
	}
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Session) load(doc model.Document, meta LoadMeta) {
	if s.hooks.OnLoad != nil {
		s.hooks.OnLoad(doc, meta)
	}
}

func (s *Session) reset() {
	if s.hooks.OnNew != nil {
		s.hooks.OnNew()
	}
}

func (s *Session) report(err error) {
	logger.Sugar.Warnf("Story session: %v", err)
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}

// SetUser replaces the identity. "" signs out.
func (s *Session) SetUser(ctx context.Context, userID string) {
	s.mu.Lock()
	if userID != s.state.UserID {
		s.gen++
		s.state.UserID = userID
		s.state.Stories = []model.StoryListEntry{}
		s.state.CurrentStoryID = ""
		s.state.Loading = false
		s.state.Saving = false
		s.opening = false
		if userID == "" {
			s.state.DemoMode = false
		}
	}
	s.settle(nil, nil)

	if userID != "" {
		s.RefreshList(ctx)
	}
}

// RefreshList reloads the user's stories. A failed load keeps the previous list.
func (s *Session) RefreshList(ctx context.Context) {
	s.mu.Lock()
	if s.state.UserID == "" || s.state.Loading {
		s.mu.Unlock()
		return
	}
	s.state.Loading = true
	user, gen := s.state.UserID, s.gen
	s.settle(nil, nil)

	entries, err := s.store.List(ctx, user)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state.Loading = false
	if err == nil {
		s.state.Stories = entries
	}
	s.settle(err, nil)
}

// busy reports whether a load or write is in flight. mu must be held.
func (s *Session) busy() bool {
	return s.state.Loading || s.state.Saving
}

// Open makes storyID the active document. The demo id loads the bundled demo.
// Both are ignored while another load or a save is in flight.
func (s *Session) Open(ctx context.Context, storyID string) {
	if model.IsDemo(storyID) {
		s.openDemo(ctx)
		return
	}

	s.mu.Lock()
	if s.busy() {
		s.mu.Unlock()
		return
	}
	wasDemo := s.state.DemoMode
	s.state.DemoMode = false
	if s.state.UserID == "" || storyID == "" {
		if wasDemo {
			s.settle(nil, nil)
		} else {
			s.mu.Unlock()
		}
		return
	}
	s.state.Loading = true
	s.opening = true
	user, gen := s.state.UserID, s.gen
	s.settle(nil, nil)

	story, err := s.store.Get(ctx, storyID, user)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state.Loading = false
	s.opening = false
	if err != nil {
		s.settle(err, nil)
		return
	}
	s.state.CurrentStoryID = story.ID
	s.settle(nil, func() { s.load(story.Document(), LoadMeta{StoryID: story.ID}) })
}

func (s *Session) openDemo(ctx context.Context) {
	s.mu.Lock()
	if s.busy() {
		s.mu.Unlock()
		return
	}
	s.state.Loading = true
	s.opening = true
	gen := s.gen
	s.settle(nil, nil)

	doc, err := s.demo.Fetch(ctx)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state.Loading = false
	s.opening = false
	if err != nil {
		s.settle(err, nil)
		return
	}
	s.state.DemoMode = true
	s.state.CurrentStoryID = ""
	s.settle(nil, func() { s.load(*doc, LoadMeta{IsDemo: true, StoryID: model.DemoID}) })
}

// Save writes the editor document to the active story, creating one if none is open.
func (s *Session) Save(ctx context.Context) {
	s.persist(ctx, "", false)
}

// SaveAs always creates a new story titled newTitle. A blank title does nothing.
func (s *Session) SaveAs(ctx context.Context, newTitle string) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return
	}
	s.persist(ctx, newTitle, true)
}

func (s *Session) persist(ctx context.Context, title string, forceCreate bool) {
	s.mu.Lock()
	if s.state.Saving || s.opening {
		s.mu.Unlock()
		return
	}
	wasDemo := s.state.DemoMode
	s.state.DemoMode = false
	if s.state.UserID == "" {
		if wasDemo {
			s.settle(nil, nil)
		} else {
			s.mu.Unlock()
		}
		return
	}
	s.state.Saving = true
	user, gen := s.state.UserID, s.gen
	id := s.state.CurrentStoryID
	if forceCreate {
		id = ""
	}
	s.settle(nil, nil)

	var doc model.Document
	if s.hooks.GetState != nil {
		doc = s.hooks.GetState()
	}
	if title == "" {
		title = doc.PageTitle
	}

	var (
		story *model.Story
		err   error
	)
	if id != "" {
		story, err = s.store.Update(ctx, id, title, doc.Project, doc.Blocks, user)
	} else {
		story, err = s.store.Create(ctx, title, doc.Project, doc.Blocks, user)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state.Saving = false
	if err != nil {
		s.settle(err, nil)
		return
	}
	s.state.CurrentStoryID = story.ID
	s.settle(nil, nil)

	logger.Sugar.Debugf("Saved story %s for user %s", story.ID, user)
	s.RefreshList(ctx)
}

// Delete removes storyID once ConfirmDelete agrees. Deleting the active story
// resets the editor.
func (s *Session) Delete(ctx context.Context, storyID string) {
	if model.IsDemo(storyID) {
		s.report(model.ErrReadOnly)
		return
	}
	if storyID == "" || !s.writable() {
		return
	}
	if s.hooks.ConfirmDelete == nil || !s.hooks.ConfirmDelete(storyID) {
		return
	}

	s.mu.Lock()
	if s.state.Saving || s.opening || s.state.UserID == "" {
		s.mu.Unlock()
		return
	}
	s.state.Saving = true
	user, gen := s.state.UserID, s.gen
	s.settle(nil, nil)

	err := s.store.Delete(ctx, storyID, user)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state.Saving = false
	if err != nil {
		s.settle(err, nil)
		return
	}
	var then func()
	if s.state.CurrentStoryID == storyID {
		s.state.CurrentStoryID = ""
		then = s.reset
	}
	s.settle(nil, then)

	s.RefreshList(ctx)
}

// Duplicate copies storyID into a new story. The active story does not change.
func (s *Session) Duplicate(ctx context.Context, storyID string) {
	if model.IsDemo(storyID) {
		s.report(model.ErrReadOnly)
		return
	}
	s.mu.Lock()
	if s.state.Saving || s.state.UserID == "" || storyID == "" {
		s.mu.Unlock()
		return
	}
	s.state.Saving = true
	user, gen := s.state.UserID, s.gen
	s.settle(nil, nil)

	_, err := s.store.Duplicate(ctx, storyID, user)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state.Saving = false
	if err != nil {
		s.settle(err, nil)
		return
	}
	s.settle(nil, nil)

	s.RefreshList(ctx)
}

// StartNew resets the editor to a blank, unsaved document. It is ignored while
// a save is in flight.
func (s *Session) StartNew() {
	s.mu.Lock()
	if s.state.Saving {
		s.mu.Unlock()
		return
	}
	s.state.DemoMode = false
	s.state.CurrentStoryID = ""
	s.settle(nil, s.reset)
}

func (s *Session) writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.UserID != "" && !s.state.Saving
}
