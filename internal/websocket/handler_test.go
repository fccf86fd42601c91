package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"adminchat/internal/auth"
	"adminchat/internal/hub"
	"adminchat/internal/presence"
	"adminchat/pkg/types"
)

type recordingStore struct {
	mu       sync.Mutex
	messages []*types.ChatMessage
}

func (s *recordingStore) Append(ctx context.Context, msg *types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingStore) RecentMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}

func (s *recordingStore) MessagesBySender(ctx context.Context, senderID string, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}

func (s *recordingStore) MarkOthersRead(ctx context.Context, viewerID string) (int64, error) {
	return 0, nil
}

func (s *recordingStore) UnreadCount(ctx context.Context, viewerID string) (int, error) {
	return 0, nil
}

func (s *recordingStore) HealthCheck(ctx context.Context) error { return nil }
func (s *recordingStore) Close() error                          { return nil }

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type receivedEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestEndpoint(t *testing.T) (*httptest.Server, *auth.Verifier, *recordingStore) {
	t.Helper()

	store := &recordingStore{}
	verifier := auth.NewVerifier("test-secret", 0)
	chatHub := hub.NewHub(presence.NewRegistry(), store, nil, 0)
	if err := chatHub.Start(context.Background()); err != nil {
		t.Fatalf("hub start failed: %v", err)
	}
	t.Cleanup(func() { _ = chatHub.Stop() })

	ts := httptest.NewServer(NewHandler(chatHub, verifier, DefaultConfig()))
	t.Cleanup(ts.Close)
	return ts, verifier, store
}

func dial(t *testing.T, ts *httptest.Server, verifier *auth.Verifier, who types.Identity) *websocket.Conn {
	t.Helper()

	token, err := verifier.Issue(who, time.Hour)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		t.Fatalf("writing %s: %v", event, err)
	}
}

// readEvent blocks for the next frame of the given event, skipping others.
func readEvent(t *testing.T, conn *websocket.Conn, event string) receivedEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env receivedEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("reading %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func TestDialWithoutTokenIsRefused(t *testing.T) {
	ts, _, _ := newTestEndpoint(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestDialWithBadTokenIsRefused(t *testing.T) {
	ts, _, _ := newTestEndpoint(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestJoinAndMessageFlow(t *testing.T) {
	ts, verifier, store := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})

	send(t, alice, "join-chat", nil)
	// Alice must be registered before Bob joins so she hears about it.
	time.Sleep(50 * time.Millisecond)
	send(t, bob, "join-chat", nil)

	joined := readEvent(t, alice, "user-joined")
	var presencePayload struct {
		User types.Identity `json:"user"`
	}
	if err := json.Unmarshal(joined.Data, &presencePayload); err != nil {
		t.Fatalf("decoding user-joined: %v", err)
	}
	if presencePayload.User.ID != "bob" {
		t.Errorf("expected bob's join notice, got %+v", presencePayload.User)
	}

	send(t, bob, "send-message", map[string]string{"message": "hello from bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEvent(t, conn, "new-message")
		var msg types.ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			t.Fatalf("decoding new-message: %v", err)
		}
		if msg.Body != "hello from bob" || msg.Sender.ID != "bob" {
			t.Errorf("unexpected message: %+v", msg)
		}
	}

	if store.count() != 1 {
		t.Errorf("expected 1 persisted message, got %d", store.count())
	}
}

func TestSenderIdentityComesFromToken(t *testing.T) {
	ts, verifier, _ := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})
	send(t, alice, "join-chat", nil)
	time.Sleep(50 * time.Millisecond)
	send(t, bob, "join-chat", nil)
	readEvent(t, alice, "user-joined")

	// A spoofed userId in the payload is ignored; the token identity wins.
	send(t, bob, "send-message", map[string]string{"message": "spoofed", "userId": "alice"})

	env := readEvent(t, alice, "new-message")
	var msg types.ChatMessage
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decoding new-message: %v", err)
	}
	if msg.Sender.ID != "bob" {
		t.Errorf("sender must be bound to the authenticated identity, got %q", msg.Sender.ID)
	}
}

func TestInvalidMessageGetsErrorToSenderOnly(t *testing.T) {
	ts, verifier, store := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})
	send(t, alice, "join-chat", nil)
	time.Sleep(50 * time.Millisecond)
	send(t, bob, "join-chat", nil)
	readEvent(t, alice, "user-joined")

	send(t, bob, "send-message", map[string]string{"message": "   "})

	env := readEvent(t, bob, "message-error")
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decoding message-error: %v", err)
	}
	if payload.Error == "" {
		t.Error("error payload should describe the failure")
	}

	// Alice sees nothing; a follow-up valid message arrives first.
	send(t, bob, "send-message", map[string]string{"message": "valid"})
	got := readEvent(t, alice, "new-message")
	var msg types.ChatMessage
	if err := json.Unmarshal(got.Data, &msg); err != nil {
		t.Fatalf("decoding new-message: %v", err)
	}
	if msg.Body != "valid" {
		t.Errorf("alice should only see the valid message, got %q", msg.Body)
	}
	if store.count() != 1 {
		t.Errorf("expected only the valid message persisted, got %d", store.count())
	}
}

func TestEventsBeforeJoinAreDropped(t *testing.T) {
	ts, verifier, store := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})
	send(t, alice, "join-chat", nil)
	time.Sleep(50 * time.Millisecond)

	// Bob never joined; his sends must vanish without side effects.
	send(t, bob, "send-message", map[string]string{"message": "ghost"})
	time.Sleep(100 * time.Millisecond)

	if store.count() != 0 {
		t.Errorf("pre-join messages must not persist, got %d", store.count())
	}
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	ts, verifier, _ := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})
	send(t, alice, "join-chat", nil)
	time.Sleep(50 * time.Millisecond)
	send(t, bob, "join-chat", nil)
	readEvent(t, alice, "user-joined")

	bob.Close()

	env := readEvent(t, alice, "user-left")
	var payload struct {
		User types.Identity `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decoding user-left: %v", err)
	}
	if payload.User.ID != "bob" {
		t.Errorf("expected bob's departure, got %+v", payload.User)
	}
}

func TestTypingRelay(t *testing.T) {
	ts, verifier, _ := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})
	send(t, alice, "join-chat", nil)
	time.Sleep(50 * time.Millisecond)
	send(t, bob, "join-chat", nil)
	readEvent(t, alice, "user-joined")

	send(t, bob, "typing", nil)

	env := readEvent(t, alice, "user-typing")
	var payload struct {
		User     types.Identity `json:"user"`
		IsTyping bool           `json:"isTyping"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decoding user-typing: %v", err)
	}
	if payload.User.ID != "bob" || !payload.IsTyping {
		t.Errorf("unexpected typing payload: %+v", payload)
	}
}

func TestVoiceMessageRelay(t *testing.T) {
	ts, verifier, store := newTestEndpoint(t)

	alice := dial(t, ts, verifier, types.Identity{ID: "alice", Name: "Alice"})
	bob := dial(t, ts, verifier, types.Identity{ID: "bob", Name: "Bob"})
	send(t, alice, "join-chat", nil)
	time.Sleep(50 * time.Millisecond)
	send(t, bob, "join-chat", nil)
	readEvent(t, alice, "user-joined")

	send(t, bob, "voice-message", map[string]interface{}{
		"audioData": "blob", "timestamp": 42,
	})

	env := readEvent(t, alice, "voice-message")
	var payload struct {
		UserID    string `json:"userId"`
		AudioData string `json:"audioData"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decoding voice-message: %v", err)
	}
	if payload.UserID != "bob" || payload.AudioData != "blob" {
		t.Errorf("unexpected voice payload: %+v", payload)
	}
	if store.count() != 0 {
		t.Error("voice messages must never be persisted")
	}
}

func TestConfiguredPingInterval(t *testing.T) {
	store := &recordingStore{}
	verifier := auth.NewVerifier("test-secret", 0)
	chatHub := hub.NewHub(presence.NewRegistry(), store, nil, 0)
	if err := chatHub.Start(context.Background()); err != nil {
		t.Fatalf("hub start failed: %v", err)
	}
	t.Cleanup(func() { _ = chatHub.Stop() })

	cfg := DefaultConfig()
	cfg.PingInterval = 25 * time.Millisecond
	ts := httptest.NewServer(NewHandler(chatHub, verifier, cfg))
	t.Cleanup(ts.Close)

	conn := dial(t, ts, verifier, types.Identity{ID: "pinger", Name: "Pinger"})

	pings := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping within 2s of a 25ms ping interval")
	}
}
