package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"storyboard/internal/story/model"
	"storyboard/internal/story/session"
	"storyboard/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows us to connect from our Next.js dev server
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one browser tab. It owns a story session and mirrors its state
// changes back over the socket.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	UserID  string
	Send    chan []byte
	Session *session.Session

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	doc       model.Document
	confirmed map[string]bool
}

// LoadPayload is the body of a LOAD message.
type LoadPayload struct {
	Document model.Document   `json:"document"`
	Meta     session.LoadMeta `json:"meta"`
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		Hub:       hub,
		Conn:      conn,
		UserID:    userID,
		Send:      make(chan []byte, 256),
		ctx:       ctx,
		cancel:    cancel,
		confirmed: map[string]bool{},
	}

	store := notifyingStore{
		Store:   hub.Store,
		onWrite: func() { hub.listChanged(userID, client) },
	}
	client.Session = session.New(store, hub.Demo, session.Hooks{
		OnLoad:        client.onLoad,
		OnNew:         client.onNew,
		GetState:      client.document,
		OnError:       client.onError,
		ConfirmDelete: client.takeConfirmation,
	})
	client.Session.Subscribe(client.onState)

	client.Hub.Register <- client

	go client.writePump()

	// The identity and first list load settle before any message is read, so
	// an early SAVE or OPEN never races the initial refresh.
	client.Session.SetUser(ctx, userID)
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		c.dispatch(msg)
	}
}

// dispatch turns one inbound message into a session intent. Intents that hit
// the store run on their own goroutine so the socket keeps reading; the
// session drops overlapping ones.
func (c *Client) dispatch(msg WSMessage) {
	s := c.Session
	switch msg.Type {
	case EditType:
		c.setDocument(msg.Payload)
	case SaveType:
		c.setDocument(msg.Payload)
		go s.Save(c.ctx)
	case SaveAsType:
		c.setDocument(msg.Payload)
		go s.SaveAs(c.ctx, msg.Title)
	case OpenType:
		go s.Open(c.ctx, msg.StoryID)
	case DeleteType:
		if msg.Confirmed {
			c.confirm(msg.StoryID)
		}
		go s.Delete(c.ctx, msg.StoryID)
	case DuplicateType:
		go s.Duplicate(c.ctx, msg.StoryID)
	case NewType:
		s.StartNew()
	case RefreshType:
		go s.RefreshList(c.ctx)
	default:
		logger.Sugar.Warnf("Unknown message type %q from user %s", msg.Type, c.UserID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // Send ping every 30s
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}

func (c *Client) refresh() {
	c.Session.RefreshList(c.ctx)
}

// send queues msg unless the hub already dropped this client.
func (c *Client) send(msg WSMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s message: %v", msg.Type, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- b:
	default:
		logger.Sugar.Warnf("Send buffer full for user %s; dropping %s", c.UserID, msg.Type)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) sendPayload(msgType, storyID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", msgType, err)
		return
	}
	c.send(WSMessage{Type: msgType, StoryID: storyID, UserID: c.UserID, Payload: payload})
}

func (c *Client) onState(st session.State) {
	c.sendPayload(StateType, st.CurrentStoryID, st)
}

func (c *Client) onLoad(doc model.Document, meta session.LoadMeta) {
	c.mu.Lock()
	c.doc = doc
	c.mu.Unlock()
	c.sendPayload(LoadType, meta.StoryID, LoadPayload{Document: doc, Meta: meta})
}

func (c *Client) onNew() {
	c.mu.Lock()
	c.doc = model.Document{}
	c.mu.Unlock()
	c.send(WSMessage{Type: ResetType, UserID: c.UserID})
}

func (c *Client) onError(err error) {
	c.sendPayload(ErrorType, "", ErrorPayload{Code: errorCode(err), Message: err.Error()})
}

func (c *Client) document() model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

func (c *Client) setDocument(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Sugar.Warnf("Ignoring malformed document from user %s: %v", c.UserID, err)
		return
	}
	c.mu.Lock()
	c.doc = doc
	c.mu.Unlock()
}

func (c *Client) confirm(storyID string) {
	c.mu.Lock()
	c.confirmed[storyID] = true
	c.mu.Unlock()
}

// takeConfirmation consumes a DELETE confirmation so it applies only once.
func (c *Client) takeConfirmation(storyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.confirmed[storyID]
	delete(c.confirmed, storyID)
	return ok
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, model.ErrDemoUnavailable):
		return "demo_unavailable"
	case errors.Is(err, model.ErrReadOnly):
		return "read_only"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
