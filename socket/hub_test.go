package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard/internal/story/demo"
	"storyboard/internal/story/model"
	"storyboard/internal/story/session"
	"storyboard/internal/story/storytest"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	// Set a deadline to avoid tests hanging forever.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &msg)
	require.NoError(t, err, "Failed to unmarshal WSMessage JSON")
	return msg
}

// readUntil skips messages until one of msgType satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(WSMessage) bool) WSMessage {
	t.Helper()
	for i := 0; i < 50; i++ {
		msg := readMessage(t, conn)
		if msg.Type == msgType && (match == nil || match(msg)) {
			return msg
		}
	}
	t.Fatalf("no %s message matched", msgType)
	return WSMessage{}
}

func state(t *testing.T, msg WSMessage) session.State {
	t.Helper()
	var st session.State
	require.NoError(t, json.Unmarshal(msg.Payload, &st))
	return st
}

// readState waits for a settled STATE message satisfying match.
func readState(t *testing.T, conn *websocket.Conn, match func(session.State) bool) session.State {
	t.Helper()
	msg := readUntil(t, conn, StateType, func(m WSMessage) bool {
		st := state(t, m)
		return !st.Loading && !st.Saving && match(st)
	})
	return state(t, msg)
}

// awaitRefresh waits for a full list reload: loading raised, then lowered.
func awaitRefresh(t *testing.T, conn *websocket.Conn) session.State {
	t.Helper()
	readUntil(t, conn, StateType, func(m WSMessage) bool { return state(t, m).Loading })
	return readState(t, conn, func(session.State) bool { return true })
}

func send(t *testing.T, conn *websocket.Conn, msg WSMessage) {
	t.Helper()
	msgBytes, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msgBytes))
}

func startHub(t *testing.T) (*Hub, *storytest.Store, string) {
	t.Helper()
	store := storytest.NewStore()
	hub := NewHub(store, demo.NewFSFetcher())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// For simplicity, we'll hardcode the user ID for tests.
		ServeWs(hub, w, r, r.URL.Query().Get("user_id"))
	}))
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	// Convert http:// to ws://
	return hub, store, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, wsURL, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?user_id="+userID, nil)
	require.NoError(t, err, "Client failed to connect")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubIntegration(t *testing.T) {
	hub, store, wsURL := startHub(t)

	// 1. The first tab signs in and receives its (empty) list.
	conn1 := dial(t, wsURL, "alice")
	st := awaitRefresh(t, conn1)
	assert.Equal(t, "alice", st.UserID)
	assert.Empty(t, st.Stories)
	assert.Equal(t, model.DemoID, st.Demo.ID)

	// 2. Opening the demo loads the bundled document read-only.
	send(t, conn1, WSMessage{Type: OpenType, StoryID: model.DemoID})
	loadMsg := readUntil(t, conn1, LoadType, nil)
	var load LoadPayload
	require.NoError(t, json.Unmarshal(loadMsg.Payload, &load))
	assert.True(t, load.Meta.IsDemo)
	assert.Equal(t, model.DemoTitle, load.Document.PageTitle)
	st = readState(t, conn1, func(s session.State) bool { return s.DemoMode })
	assert.Empty(t, st.CurrentStoryID)

	// 3. Saving from the demo creates a real story from the editor document.
	send(t, conn1, WSMessage{
		Type:    SaveType,
		Payload: json.RawMessage(`{"pageTitle":"Trip","project":"p1","blocks":[{"type":"gallery","media":["a.jpg"]}]}`),
	})
	st = readState(t, conn1, func(s session.State) bool { return len(s.Stories) == 1 })
	assert.False(t, st.DemoMode)
	require.NotEmpty(t, st.CurrentStoryID)
	assert.Equal(t, "Trip", st.Stories[0].Title)
	tripID := st.CurrentStoryID

	// 4. A second tab for the same user sees the saved story.
	conn2 := dial(t, wsURL, "alice")
	st = awaitRefresh(t, conn2)
	require.Len(t, st.Stories, 1)
	require.Eventually(t, func() bool { return hub.Sessions("alice") == 2 }, time.Second, 10*time.Millisecond)

	// 5. Save As in the first tab refreshes the second tab's list.
	send(t, conn1, WSMessage{Type: SaveAsType, Title: "Fork"})
	st = readState(t, conn1, func(s session.State) bool { return len(s.Stories) == 2 })
	forkID := st.CurrentStoryID
	assert.NotEqual(t, tripID, forkID)
	readState(t, conn2, func(s session.State) bool { return len(s.Stories) == 2 })

	// 6. A confirmed delete of the active story resets the editor everywhere it matters.
	send(t, conn1, WSMessage{Type: DeleteType, StoryID: forkID, Confirmed: true})
	readUntil(t, conn1, ResetType, nil)
	st = readState(t, conn1, func(s session.State) bool { return len(s.Stories) == 1 })
	assert.Empty(t, st.CurrentStoryID)
	readState(t, conn2, func(s session.State) bool { return len(s.Stories) == 1 })

	assert.Equal(t, 1, store.Count("delete"))
}

func TestHubIntegration_ErrorsAreReported(t *testing.T) {
	_, _, wsURL := startHub(t)

	conn := dial(t, wsURL, "bob")
	awaitRefresh(t, conn)

	send(t, conn, WSMessage{Type: OpenType, StoryID: "missing"})
	msg := readUntil(t, conn, ErrorType, nil)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "not_found", payload.Code)

	send(t, conn, WSMessage{Type: DuplicateType, StoryID: model.DemoID})
	msg = readUntil(t, conn, ErrorType, nil)
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "read_only", payload.Code)
}

func TestHub_UsersAreIsolated(t *testing.T) {
	hub, store, wsURL := startHub(t)
	store.Seed("alice", "Alice's", time.Now())

	alice := dial(t, wsURL, "alice")
	st := awaitRefresh(t, alice)
	require.Len(t, st.Stories, 1)

	bob := dial(t, wsURL, "bob")
	st = awaitRefresh(t, bob)
	assert.Empty(t, st.Stories)

	require.Eventually(t, func() bool {
		return hub.Sessions("alice") == 1 && hub.Sessions("bob") == 1
	}, time.Second, 10*time.Millisecond)

	bob.Close()
	require.Eventually(t, func() bool { return hub.Sessions("bob") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_SaveSentDuringFirstRefreshIsKept(t *testing.T) {
	_, store, wsURL := startHub(t)
	release := store.Block()
	defer release()

	conn := dial(t, wsURL, "carol")
	require.Eventually(t, func() bool { return store.Count("list") == 1 }, 2*time.Second, time.Millisecond)
	send(t, conn, WSMessage{
		Type:    SaveType,
		Payload: json.RawMessage(`{"pageTitle":"Early","project":"p1","blocks":[]}`),
	})
	release()

	st := readState(t, conn, func(s session.State) bool { return len(s.Stories) == 1 })
	assert.Equal(t, "carol", st.UserID)
	assert.Equal(t, "Early", st.Stories[0].Title)
	assert.Equal(t, st.Stories[0].ID, st.CurrentStoryID)
	assert.Equal(t, 1, store.Count("create"))
}

func TestTakeConfirmation_IsSingleUse(t *testing.T) {
	c := &Client{confirmed: map[string]bool{}}

	assert.False(t, c.takeConfirmation("s1"))
	c.confirm("s1")
	assert.True(t, c.takeConfirmation("s1"))
	assert.False(t, c.takeConfirmation("s1"))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "not_found", errorCode(fmt.Errorf("get: %w", model.ErrNotFound)))
	assert.Equal(t, "backend_unavailable", errorCode(model.ErrBackendUnavailable))
	assert.Equal(t, "demo_unavailable", errorCode(model.ErrDemoUnavailable))
	assert.Equal(t, "internal", errorCode(fmt.Errorf("boom")))
}
