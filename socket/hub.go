package socket

import (
	"context"
	"encoding/json"
	"sync"

	"storyboard/internal/story/demo"
	"storyboard/internal/story/model"
	"storyboard/internal/story/service"
	"storyboard/pkg/logger"
)

const (
	// Browser -> server intents.
	RefreshType   = "REFRESH"   // Reload the story list
	OpenType      = "OPEN"      // Open a story (or the demo)
	EditType      = "EDIT"      // Push the current editor document
	SaveType      = "SAVE"      // Save to the active story
	SaveAsType    = "SAVE_AS"   // Save as a new story
	DeleteType    = "DELETE"    // Delete a story; needs confirmed=true
	NewType       = "NEW"       // Start a blank story
	DuplicateType = "DUPLICATE" // Copy a story

	// Server -> browser.
	StateType       = "STATE"        // Session snapshot
	LoadType        = "LOAD"         // Document for the editor
	ResetType       = "RESET"        // Clear the editor
	ErrorType       = "ERROR"        // Failed intent
	ListChangedType = "LIST_CHANGED" // Another tab or the REST API wrote a story
)

type WSMessage struct {
	Type      string          `json:"type"`
	StoryID   string          `json:"story_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Title     string          `json:"title,omitempty"`
	Confirmed bool            `json:"confirmed,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	origin *Client
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Hub groups live connections by user so a write in one tab refreshes the others.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	mu         sync.Mutex
	done       chan struct{}

	Store service.Store
	Demo  demo.Fetcher
}

func NewHub(store service.Store, fetcher demo.Fetcher) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		Store:      store,
		Demo:       fetcher,
	}
}

// Run serves the hub until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.UserID] == nil {
				h.Rooms[client.UserID] = make(map[*Client]bool)
			}
			h.Rooms[client.UserID][client] = true
			n := len(h.Rooms[client.UserID])
			h.mu.Unlock()
			logger.Sugar.Infof("Session opened for user %s (%d open)", client.UserID, n)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.Rooms[client.UserID][client]; ok {
				delete(h.Rooms[client.UserID], client)
				client.close()
				if len(h.Rooms[client.UserID]) == 0 {
					delete(h.Rooms, client.UserID)
				}
			}
			h.mu.Unlock()
			logger.Sugar.Infof("Session closed for user %s", client.UserID)

		case msg := <-h.Broadcast:
			if msg.Type != ListChangedType {
				logger.Sugar.Warnf("Hub: dropping unexpected broadcast %s", msg.Type)
				continue
			}
			// Collect recipients first to avoid holding the lock during I/O.
			h.mu.Lock()
			targets := make([]*Client, 0, len(h.Rooms[msg.UserID]))
			for client := range h.Rooms[msg.UserID] {
				if client != msg.origin {
					targets = append(targets, client)
				}
			}
			h.mu.Unlock()

			for _, client := range targets {
				go client.refresh()
			}
		}
	}
}

// ListChanged tells every open session of userID to reload its list.
func (h *Hub) ListChanged(userID string) {
	h.listChanged(userID, nil)
}

func (h *Hub) listChanged(userID string, origin *Client) {
	select {
	case h.Broadcast <- WSMessage{Type: ListChangedType, UserID: userID, origin: origin}:
	default:
		logger.Sugar.Warnf("Hub broadcast queue full; list change for %s dropped", userID)
	}
}

// Sessions reports how many connections userID has open.
func (h *Hub) Sessions(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[userID])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.Rooms {
		for client := range clients {
			client.close()
			client.Conn.Close()
		}
		delete(h.Rooms, userID)
	}
}

// notifyingStore reports successful writes to the hub.
type notifyingStore struct {
	service.Store
	onWrite func()
}

func (s notifyingStore) Create(ctx context.Context, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error) {
	st, err := s.Store.Create(ctx, title, project, blocks, userID)
	if err == nil {
		s.onWrite()
	}
	return st, err
}

func (s notifyingStore) Update(ctx context.Context, id, title, project string, blocks []json.RawMessage, userID string) (*model.Story, error) {
	st, err := s.Store.Update(ctx, id, title, project, blocks, userID)
	if err == nil {
		s.onWrite()
	}
	return st, err
}

func (s notifyingStore) Delete(ctx context.Context, id, userID string) error {
	err := s.Store.Delete(ctx, id, userID)
	if err == nil {
		s.onWrite()
	}
	return err
}

func (s notifyingStore) Duplicate(ctx context.Context, id, userID string) (*model.Story, error) {
	st, err := s.Store.Duplicate(ctx, id, userID)
	if err == nil {
		s.onWrite()
	}
	return st, err
}
