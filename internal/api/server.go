package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"adminchat/internal/auth"
	"adminchat/internal/hub"
	"adminchat/internal/metrics"
	"adminchat/pkg/interfaces"
	"adminchat/pkg/types"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	}
	modelExtensions = map[string]bool{
		".glb": true, ".gltf": true,
	}
)

// UploadConfig bounds the two upload endpoints.
type UploadConfig struct {
	Dir           string
	MaxImageBytes int64
	MaxModelBytes int64
}

// Server is the HTTP surface: the chat read path, the upload collaborators,
// health, metrics, and the websocket endpoint.
type Server struct {
	store     interfaces.MessageStore
	hub       *hub.Hub
	verifier  *auth.Verifier
	metrics   *metrics.Metrics
	wsHandler http.Handler
	uploads   UploadConfig
	router    *mux.Router
}

// NewServer wires the routes. The hub is injected so uploads can publish
// the resulting message into the room without the server knowing how.
func NewServer(store interfaces.MessageStore, h *hub.Hub, verifier *auth.Verifier,
	m *metrics.Metrics, wsHandler http.Handler, uploads UploadConfig) *Server {

	s := &Server{
		store:     store,
		hub:       h,
		verifier:  verifier,
		metrics:   m,
		wsHandler: wsHandler,
		uploads:   uploads,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(loggingMiddleware(s.router))
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/chat/messages", s.handleRecentMessages).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat/messages/user/{userId}", s.handleMessagesBySender).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat/read/{userId}", s.handleMarkRead).Methods(http.MethodPut)
	s.router.HandleFunc("/api/chat/unread/{userId}", s.handleUnreadCount).Methods(http.MethodGet)
	s.router.HandleFunc("/api/uploads/image", s.handleUploadImage).Methods(http.MethodPost)
	s.router.HandleFunc("/api/uploads/model3d", s.handleUploadModel3D).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.wsHandler != nil {
		s.router.Handle("/ws/chat", s.wsHandler)
	}
	s.router.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploads.Dir))))
}

// handleRecentMessages returns the latest messages oldest-first, ready for
// direct display.
func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultMessageLimit)

	messages, err := s.store.RecentMessages(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	reverseMessages(messages)
	respondList(w, messages)
}

func (s *Server) handleMessagesBySender(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !types.IsValidUserID(userID) {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	limit := parseLimit(r, defaultMessageLimit)

	messages, err := s.store.MessagesBySender(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	reverseMessages(messages)
	respondList(w, messages)
}

// handleMarkRead flags everything not sent by the viewer as read and
// reports how many rows changed.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	modified, err := s.hub.MarkRead(r.Context(), userID)
	if err != nil {
		if err == types.ErrInvalidUserID {
			respondError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}
	respondJSON(w, http.StatusOK, markReadResponse{Success: true, ModifiedCount: modified})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if !types.IsValidUserID(userID) {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	count, err := s.store.UnreadCount(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count unread messages")
		return
	}
	respondJSON(w, http.StatusOK, countResponse{Success: true, Count: count})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, "image", imageExtensions, s.uploads.MaxImageBytes, s.hub.SendImageRef)
}

func (s *Server) handleUploadModel3D(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, "model3d", modelExtensions, s.uploads.MaxModelBytes, s.hub.SendModel3DRef)
}

// handleUpload stores the multipart file on disk, then publishes it into
// the room as a chat message through the injected hub send.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, field string,
	allowed map[string]bool, maxBytes int64,
	send func(types.Identity, types.FileRef) (*types.ChatMessage, error)) {

	identity, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		respondError(w, http.StatusBadRequest, "no "+field+" file provided")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowed[ext] {
		respondError(w, http.StatusBadRequest, "unsupported file type "+ext)
		return
	}
	if header.Size > maxBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	name := uuid.New().String() + ext
	written, err := s.saveFile(file, name)
	if err != nil {
		log.Printf("api: saving upload from %s: %v", identity.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	msg, err := send(identity, types.FileRef{
		URL:       "/uploads/" + name,
		Name:      header.Filename,
		SizeBytes: written,
	})
	if err != nil {
		os.Remove(filepath.Join(s.uploads.Dir, name))
		if err == hub.ErrRateLimitExceeded {
			respondError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		log.Printf("api: publishing upload from %s: %v", identity.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	respondJSON(w, http.StatusCreated, dataResponse{Success: true, Data: msg})
}

func (s *Server) saveFile(src io.Reader, name string) (int64, error) {
	if err := os.MkdirAll(s.uploads.Dir, 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(filepath.Join(s.uploads.Dir, name))
	if err != nil {
		return 0, err
	}
	defer dst.Close()
	return io.Copy(dst, src)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	database := "up"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		database = "down"
	}
	respondJSON(w, status, healthResponse{
		Status:       database,
		Database:     database,
		Participants: len(s.hub.Participants()),
		Timestamp:    time.Now().UTC(),
	})
}

func (s *Server) authenticate(r *http.Request) (types.Identity, error) {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return s.verifier.Verify(token)
	}
	return types.Identity{}, auth.ErrInvalidToken
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}

// reverseMessages flips store order (newest first) into display order.
func reverseMessages(messages []*types.ChatMessage) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
