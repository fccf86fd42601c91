package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"adminchat/internal/auth"
	"adminchat/internal/hub"
	"adminchat/internal/presence"
	"adminchat/pkg/types"
)

// mockStore serves canned messages newest-first, the store's contract.
type mockStore struct {
	messages  []*types.ChatMessage
	marked    int64
	unread    int
	healthErr error
}

func (s *mockStore) Append(ctx context.Context, msg *types.ChatMessage) error {
	s.messages = append([]*types.ChatMessage{msg}, s.messages...)
	return nil
}

func (s *mockStore) RecentMessages(ctx context.Context, limit int) ([]*types.ChatMessage, error) {
	if limit > len(s.messages) {
		limit = len(s.messages)
	}
	return append([]*types.ChatMessage(nil), s.messages[:limit]...), nil
}

func (s *mockStore) MessagesBySender(ctx context.Context, senderID string, limit int) ([]*types.ChatMessage, error) {
	var out []*types.ChatMessage
	for _, msg := range s.messages {
		if msg.Sender.ID == senderID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *mockStore) MarkOthersRead(ctx context.Context, viewerID string) (int64, error) {
	return s.marked, nil
}

func (s *mockStore) UnreadCount(ctx context.Context, viewerID string) (int, error) {
	return s.unread, nil
}

func (s *mockStore) HealthCheck(ctx context.Context) error { return s.healthErr }
func (s *mockStore) Close() error                          { return nil }

func newTestServer(t *testing.T, store *mockStore) (*httptest.Server, *auth.Verifier, string) {
	t.Helper()

	verifier := auth.NewVerifier("test-secret", 0)
	chatHub := hub.NewHub(presence.NewRegistry(), store, nil, 0)
	if err := chatHub.Start(context.Background()); err != nil {
		t.Fatalf("hub start failed: %v", err)
	}
	t.Cleanup(func() { _ = chatHub.Stop() })

	uploadDir := t.TempDir()
	server := NewServer(store, chatHub, verifier, nil, nil, UploadConfig{
		Dir:           uploadDir,
		MaxImageBytes: 1 << 20,
		MaxModelBytes: 1 << 20,
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, verifier, uploadDir
}

func seedMessages(t *testing.T, store *mockStore, bodies ...string) {
	t.Helper()
	for _, body := range bodies {
		msg, err := types.NewTextMessage(types.Identity{ID: "alice", Name: "Alice"}, body)
		if err != nil {
			t.Fatalf("building message: %v", err)
		}
		if err := store.Append(context.Background(), msg); err != nil {
			t.Fatalf("seeding message: %v", err)
		}
	}
}

func TestGetRecentMessagesOldestFirst(t *testing.T) {
	store := &mockStore{}
	ts, _, _ := newTestServer(t, store)
	seedMessages(t, store, "first", "second", "third")

	resp, err := http.Get(ts.URL + "/api/chat/messages")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Success bool                 `json:"success"`
		Data    []*types.ChatMessage `json:"data"`
		Count   int                  `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !body.Success || body.Count != 3 {
		t.Errorf("unexpected response shape: success=%v count=%d", body.Success, body.Count)
	}
	if body.Data[0].Body != "first" || body.Data[2].Body != "third" {
		t.Errorf("expected oldest first, got %q .. %q", body.Data[0].Body, body.Data[2].Body)
	}
}

func TestGetMessagesBySenderRejectsBadUserID(t *testing.T) {
	ts, _, _ := newTestServer(t, &mockStore{})

	resp, err := http.Get(ts.URL + "/api/chat/messages/user/bad%20id")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMarkRead(t *testing.T) {
	store := &mockStore{marked: 4}
	ts, _, _ := newTestServer(t, store)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/chat/read/alice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Success       bool  `json:"success"`
		ModifiedCount int64 `json:"modifiedCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !body.Success || body.ModifiedCount != 4 {
		t.Errorf("unexpected mark-read response: %+v", body)
	}
}

func TestUnreadCount(t *testing.T) {
	ts, _, _ := newTestServer(t, &mockStore{unread: 7})

	resp, err := http.Get(ts.URL + "/api/chat/unread/alice")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !body.Success || body.Count != 7 {
		t.Errorf("unexpected unread response: %+v", body)
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	return buf, writer.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	store := &mockStore{}
	ts, verifier, uploadDir := newTestServer(t, store)

	token, err := verifier.Issue(types.Identity{ID: "alice", Name: "Alice"}, time.Hour)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	buf, contentType := multipartBody(t, "image", "pic.png", []byte("png-bytes"))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/uploads/image", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body struct {
		Success bool               `json:"success"`
		Data    *types.ChatMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Data.Kind != types.KindImage || body.Data.Sender.ID != "alice" {
		t.Errorf("unexpected message: %+v", body.Data)
	}
	if body.Data.Image == nil || body.Data.Image.Name != "pic.png" {
		t.Errorf("image ref missing: %+v", body.Data.Image)
	}

	// The bytes landed on disk and the message was persisted.
	entries, err := os.ReadDir(uploadDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 stored file, got %d (err %v)", len(entries), err)
	}
	saved, err := os.ReadFile(filepath.Join(uploadDir, entries[0].Name()))
	if err != nil || string(saved) != "png-bytes" {
		t.Errorf("stored file corrupted: %q err %v", saved, err)
	}
	if len(store.messages) != 1 {
		t.Errorf("expected 1 persisted message, got %d", len(store.messages))
	}
}

func TestUploadImageRequiresAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, &mockStore{})

	buf, contentType := multipartBody(t, "image", "pic.png", []byte("png"))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/uploads/image", buf)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestUploadImageRejectsBadExtension(t *testing.T) {
	ts, verifier, _ := newTestServer(t, &mockStore{})
	token, _ := verifier.Issue(types.Identity{ID: "alice"}, time.Hour)

	buf, contentType := multipartBody(t, "image", "script.exe", []byte("nope"))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/uploads/image", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadImageRejectsMissingFile(t *testing.T) {
	ts, verifier, _ := newTestServer(t, &mockStore{})
	token, _ := verifier.Issue(types.Identity{ID: "alice"}, time.Hour)

	buf, contentType := multipartBody(t, "wrongfield", "pic.png", []byte("png"))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/uploads/image", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadModel3D(t *testing.T) {
	store := &mockStore{}
	ts, verifier, _ := newTestServer(t, store)
	token, _ := verifier.Issue(types.Identity{ID: "alice", Name: "Alice"}, time.Hour)

	buf, contentType := multipartBody(t, "model3d", "scene.glb", []byte("glb-bytes"))
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/uploads/model3d", buf)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body struct {
		Data *types.ChatMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Data.Kind != types.KindModel3D || body.Data.Model3D == nil {
		t.Errorf("unexpected message: %+v", body.Data)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t, &mockStore{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Database != "up" {
		t.Errorf("expected database up, got %q", body.Database)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t, &mockStore{})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat/messages", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
}
