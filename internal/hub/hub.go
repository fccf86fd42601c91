package hub

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"adminchat/internal/metrics"
	"adminchat/internal/presence"
	"adminchat/pkg/interfaces"
	"adminchat/pkg/types"
)

const (
	// RoomName is the single room every authenticated connection joins.
	RoomName = "general-chat"

	defaultQueueSize    = 256
	defaultStoreTimeout = 5 * time.Second
	cleanupInterval     = time.Minute
)

// Hub owns the room: which connections are joined, their presence state,
// and every fan-out. All room mutation and all broadcasting happen on the
// run goroutine, so event order is the queue order. Validation and message
// persistence happen synchronously on the caller's goroutine, which keeps a
// slow disk write from stalling unrelated events and lets callers report
// failures to the sender alone.
type Hub struct {
	registry *presence.Registry
	store    interfaces.MessageStore
	limiter  *RateLimiter
	metrics  *metrics.Metrics

	storeTimeout time.Duration

	// conns is touched only by the run goroutine.
	conns map[string]interfaces.Connection

	tasks    chan func()
	shutdown chan struct{}
	done     chan struct{}

	mu      sync.RWMutex
	running bool
}

// NewHub creates a hub over the given presence registry and message store.
// Metrics may be nil; instruments are then skipped. storeTimeout bounds
// each persistence call; zero selects the default.
func NewHub(registry *presence.Registry, store interfaces.MessageStore, m *metrics.Metrics, storeTimeout time.Duration) *Hub {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Hub{
		registry:     registry,
		store:        store,
		limiter:      NewRateLimiter(),
		metrics:      m,
		storeTimeout: storeTimeout,
		conns:        make(map[string]interfaces.Connection),
		tasks:        make(chan func(), defaultQueueSize),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the event loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true

	go h.run(ctx)
	return nil
}

// Stop shuts the event loop down and closes every joined connection.
// Blocks until the loop has drained.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.mu.Unlock()

	close(h.shutdown)
	<-h.done
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case task := <-h.tasks:
			task()
		case <-cleanup.C:
			h.limiter.Cleanup()
		case <-h.shutdown:
			h.drainAndClose()
			return
		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			h.drainAndClose()
			return
		}
	}
}

// drainAndClose runs queued tasks so in-flight broadcasts still land, then
// closes every connection.
func (h *Hub) drainAndClose() {
	for {
		select {
		case task := <-h.tasks:
			task()
		default:
			for id, conn := range h.conns {
				if err := conn.Close(); err != nil {
					log.Printf("hub: closing connection %s: %v", id, err)
				}
				delete(h.conns, id)
			}
			return
		}
	}
}

func (h *Hub) enqueue(task func()) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.tasks <- task:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// Join admits an authenticated connection to the room and tells everyone
// else. The joining connection itself receives no join event.
func (h *Hub) Join(conn interfaces.Connection, identity types.Identity) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !types.IsValidUserID(identity.ID) {
		return types.ErrInvalidUserID
	}

	// Presence is registered synchronously so a message sent right after
	// joining already resolves to a participant.
	connID := conn.ID()
	h.registry.Add(connID, identity)

	err := h.enqueue(func() {
		h.conns[connID] = conn
		h.setParticipantGauge()

		h.broadcastExcept(connID, EventUserJoined, PresencePayload{
			Message:   fmt.Sprintf("%s joined the chat", identity.Name),
			User:      identity,
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		h.registry.Remove(connID)
	}
	return err
}

// Leave removes a connection from the room. Idempotent: only the first call
// for a connection produces events. Live shares the participant still had
// open (location, voice, route) are explicitly ended for the others before
// the departure notice, so no client is left rendering stale overlays.
func (h *Hub) Leave(connectionID string) error {
	return h.enqueue(func() {
		p, existed := h.registry.Remove(connectionID)
		delete(h.conns, connectionID)
		if !existed {
			return
		}
		h.setParticipantGauge()

		now := time.Now().UnixMilli()
		if p.IsSharingLocation {
			h.broadcastExcept(connectionID, EventUserLocationSharing, LocationSharingPayload{
				UserID:    p.Identity.ID,
				IsSharing: false,
			})
		}
		if p.IsInVoiceChat {
			h.broadcastExcept(connectionID, EventVoiceChatLeave, VoicePresencePayload{
				UserID:    p.Identity.ID,
				UserName:  p.Identity.Name,
				Timestamp: now,
			})
		}
		if len(p.Route) > 0 {
			h.broadcastExcept(connectionID, EventRouteUpdate, RouteUpdatePayload{
				UserID:      p.Identity.ID,
				UserName:    p.Identity.Name,
				RoutePoints: []types.RoutePoint{},
				Timestamp:   now,
			})
		}

		h.broadcastExcept(connectionID, EventUserLeft, PresencePayload{
			Message:   fmt.Sprintf("%s left the chat", p.Identity.Name),
			User:      p.Identity,
			Timestamp: time.Now(),
		})
	})
}

// SendText validates, rate-limits and persists a text message from the
// given connection, then broadcasts it to the whole room, sender included.
func (h *Hub) SendText(connectionID, text string) (*types.ChatMessage, error) {
	p, ok := h.registry.Get(connectionID)
	if !ok {
		return nil, ErrNotJoined
	}
	msg, err := types.NewTextMessage(p.Identity, text)
	if err != nil {
		return nil, err
	}
	return h.deliver(connectionID, msg)
}

// SendLocation persists a one-shot location pin and broadcasts it as a
// regular message.
func (h *Hub) SendLocation(connectionID string, lat, lng float64, address string) (*types.ChatMessage, error) {
	p, ok := h.registry.Get(connectionID)
	if !ok {
		return nil, ErrNotJoined
	}
	msg, err := types.NewLocationMessage(p.Identity, types.GeoPoint{Lat: lat, Lng: lng, Address: address})
	if err != nil {
		return nil, err
	}
	return h.deliver(connectionID, msg)
}

// SendImageRef persists an already-uploaded image as a message and
// broadcasts it. The sender need not hold a live connection; the upload
// API calls this after storing the file.
func (h *Hub) SendImageRef(sender types.Identity, ref types.FileRef) (*types.ChatMessage, error) {
	msg, err := types.NewImageMessage(sender, ref)
	if err != nil {
		return nil, err
	}
	return h.deliver("", msg)
}

// SendModel3DRef persists an already-uploaded 3D model as a message and
// broadcasts it.
func (h *Hub) SendModel3DRef(sender types.Identity, ref types.FileRef) (*types.ChatMessage, error) {
	msg, err := types.NewModel3DMessage(sender, ref)
	if err != nil {
		return nil, err
	}
	return h.deliver("", msg)
}

// deliver applies the rate limit, persists the message, then queues the
// room-wide broadcast. senderConnID may be empty for API-originated sends.
func (h *Hub) deliver(senderConnID string, msg *types.ChatMessage) (*types.ChatMessage, error) {
	if !h.limiter.Allow(msg.Sender.ID) {
		return nil, ErrRateLimitExceeded
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()
	if err := h.store.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if h.metrics != nil {
		h.metrics.MessagesTotal.WithLabelValues(msg.Kind).Inc()
	}

	h.enqueueBroadcast(func() {
		if senderConnID != "" {
			h.registry.SetTyping(senderConnID, false)
		}
		h.broadcastAll(EventNewMessage, msg)
	})
	return msg, nil
}

// enqueueBroadcast queues the announcement of an already-persisted
// message, waiting for queue space rather than failing so a stored message
// is always broadcast. During shutdown the broadcast is dropped; the room
// is tearing down anyway.
func (h *Hub) enqueueBroadcast(task func()) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		log.Printf("hub: dropping broadcast, hub not running")
		return
	}

	select {
	case h.tasks <- task:
	case <-h.shutdown:
		log.Printf("hub: dropping broadcast during shutdown")
	}
}

// SetTyping relays a typing indicator to everyone but the typist. Unknown
// connections are ignored.
func (h *Hub) SetTyping(connectionID string, isTyping bool) error {
	return h.enqueue(func() {
		if !h.registry.SetTyping(connectionID, isTyping) {
			return
		}
		p, ok := h.registry.Get(connectionID)
		if !ok {
			return
		}
		h.broadcastExcept(connectionID, EventUserTyping, TypingPayload{
			User:     p.Identity,
			IsTyping: isTyping,
		})
	})
}

// ShareLocation starts or refreshes a live location share. Nothing is
// persisted; the coordinates only reach currently connected members.
func (h *Hub) ShareLocation(connectionID string, lat, lng float64) error {
	if !types.IsValidCoordinates(lat, lng) {
		return types.ErrInvalidCoordinates
	}
	return h.enqueue(func() {
		if !h.registry.SetSharing(connectionID, types.GeoPoint{Lat: lat, Lng: lng}) {
			return
		}
		p, _ := h.registry.Get(connectionID)
		latCopy, lngCopy := lat, lng
		h.broadcastExcept(connectionID, EventUserLocationSharing, LocationSharingPayload{
			UserID:    p.Identity.ID,
			Name:      p.Identity.Name,
			Lat:       &latCopy,
			Lng:       &lngCopy,
			IsSharing: true,
		})
	})
}

// StopSharingLocation ends a live location share.
func (h *Hub) StopSharingLocation(connectionID string) error {
	return h.enqueue(func() {
		if !h.registry.ClearSharing(connectionID) {
			return
		}
		p, ok := h.registry.Get(connectionID)
		if !ok {
			return
		}
		h.broadcastExcept(connectionID, EventUserLocationSharing, LocationSharingPayload{
			UserID:    p.Identity.ID,
			IsSharing: false,
		})
	})
}

// UpdateMapViewport relays the participant's current map view to the
// others. Values are passed through as reported.
func (h *Hub) UpdateMapViewport(connectionID string, vp types.MapViewport) error {
	return h.enqueue(func() {
		if !h.registry.SetViewport(connectionID, vp) {
			return
		}
		p, _ := h.registry.Get(connectionID)
		h.broadcastExcept(connectionID, EventMapViewUpdate, MapViewPayload{
			UserID: p.Identity.ID,
			Lat:    vp.Lat,
			Lng:    vp.Lng,
			Zoom:   vp.Zoom,
		})
	})
}

// UpdateRoute replaces the participant's sketched route and relays the full
// new route to the others. An empty point list is a clear, and is relayed
// so the others erase the drawing.
func (h *Hub) UpdateRoute(connectionID string, points []types.RoutePoint) error {
	return h.enqueue(func() {
		if !h.registry.SetRoute(connectionID, points) {
			return
		}
		p, _ := h.registry.Get(connectionID)
		if points == nil {
			points = []types.RoutePoint{}
		}
		h.broadcastExcept(connectionID, EventRouteUpdate, RouteUpdatePayload{
			UserID:      p.Identity.ID,
			UserName:    p.Identity.Name,
			RoutePoints: points,
			Timestamp:   time.Now().UnixMilli(),
		})
	})
}

// VoiceJoin announces the participant entering voice chat.
func (h *Hub) VoiceJoin(connectionID string) error {
	return h.voicePresence(connectionID, true, EventVoiceChatJoin)
}

// VoiceLeave announces the participant leaving voice chat.
func (h *Hub) VoiceLeave(connectionID string) error {
	return h.voicePresence(connectionID, false, EventVoiceChatLeave)
}

func (h *Hub) voicePresence(connectionID string, inVoice bool, event string) error {
	return h.enqueue(func() {
		if !h.registry.SetVoice(connectionID, inVoice) {
			return
		}
		p, _ := h.registry.Get(connectionID)
		h.broadcastExcept(connectionID, event, VoicePresencePayload{
			UserID:    p.Identity.ID,
			UserName:  p.Identity.Name,
			Timestamp: time.Now().UnixMilli(),
		})
	})
}

// VoiceMessage relays an encoded voice clip to every member except the
// speaker. Clips are never persisted.
func (h *Hub) VoiceMessage(connectionID, audioData string, timestamp int64) error {
	if h.metrics != nil {
		h.metrics.VoiceRelayBytesTotal.Add(float64(len(audioData)))
	}
	return h.enqueue(func() {
		p, ok := h.registry.Get(connectionID)
		if !ok {
			return
		}
		h.broadcastExcept(connectionID, EventVoiceMessage, VoiceMessagePayload{
			UserID:    p.Identity.ID,
			UserName:  p.Identity.Name,
			AudioData: audioData,
			Timestamp: timestamp,
		})
	})
}

// MarkRead flags every message not sent by the viewer as read.
func (h *Hub) MarkRead(ctx context.Context, viewerID string) (int64, error) {
	if !types.IsValidUserID(viewerID) {
		return 0, types.ErrInvalidUserID
	}
	return h.store.MarkOthersRead(ctx, viewerID)
}

// Participants returns a snapshot of everyone currently in the room.
func (h *Hub) Participants() []*presence.Participant {
	return h.registry.List()
}

func (h *Hub) broadcastAll(event string, data interface{}) {
	h.broadcastExcept("", event, data)
}

// broadcastExcept writes the envelope to every joined connection other than
// excludeConnID. Write errors are logged and skipped; the read loop of the
// failing connection handles its own teardown.
func (h *Hub) broadcastExcept(excludeConnID, event string, data interface{}) {
	envelope := Envelope{Event: event, Data: data}
	for id, conn := range h.conns {
		if id == excludeConnID {
			continue
		}
		if err := conn.WriteJSON(envelope); err != nil {
			log.Printf("hub: broadcast %s to %s failed: %v", event, id, err)
		}
	}
	if h.metrics != nil {
		h.metrics.BroadcastsTotal.Inc()
	}
}

func (h *Hub) setParticipantGauge() {
	if h.metrics != nil {
		h.metrics.ConnectedParticipants.Set(float64(h.registry.Count()))
	}
}
