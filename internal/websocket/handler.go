package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"adminchat/internal/auth"
	"adminchat/internal/hub"
	"adminchat/pkg/types"
)

// Inbound event names accepted from clients.
const (
	eventJoinChat            = "join-chat"
	eventSendMessage         = "send-message"
	eventSendLocation        = "send-location"
	eventSendImage           = "send-image"
	eventSendModel3D         = "send-model3d"
	eventTyping              = "typing"
	eventStopTyping          = "stop-typing"
	eventShareLocation       = "share-location"
	eventStopSharingLocation = "stop-sharing-location"
	eventMapViewChange       = "map-view-change"
	eventRouteUpdate         = "route-update"
	eventVoiceChatJoin       = "voice-chat-join"
	eventVoiceChatLeave      = "voice-chat-leave"
	eventVoiceMessage        = "voice-message"
)

type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessagePayload struct {
	Message string `json:"message"`
}

type locationPayload struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

type fileRefPayload struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
}

type mapViewPayload struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom float64 `json:"zoom"`
}

type routePayload struct {
	RoutePoints []types.RoutePoint `json:"routePoints"`
}

type voiceMessagePayload struct {
	AudioData string `json:"audioData"`
	Timestamp int64  `json:"timestamp"`
}

// Handler authenticates and upgrades websocket requests, then pumps each
// connection's inbound events into the hub. Identity comes from the bearer
// token alone; user IDs inside event payloads are never trusted.
type Handler struct {
	hub      *hub.Hub
	verifier *auth.Verifier
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler over the given hub and verifier.
// Zero fields in cfg fall back to DefaultConfig values.
func NewHandler(h *hub.Hub, verifier *auth.Verifier, cfg Config) *Handler {
	return &Handler{
		hub:      h,
		verifier: verifier,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP verifies the token before upgrading; a bad token is refused
// with 401 and no websocket is established.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket: upgrade failed for %s: %v", identity.ID, err)
		return
	}

	conn := NewConnection(ws, h.cfg)
	h.readLoop(conn, identity)
}

// bearerToken pulls the token from the "token" query parameter or the
// Authorization header. Browsers cannot set headers on websocket dials, so
// the query parameter is the primary path.
func bearerToken(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer "), nil
	}
	return "", ErrMissingToken
}

func (h *Handler) readLoop(conn *Connection, identity types.Identity) {
	joined := false
	var leaveOnce sync.Once
	leave := func() {
		leaveOnce.Do(func() {
			if joined {
				if err := h.hub.Leave(conn.ID()); err != nil {
					log.Printf("websocket: leave for %s: %v", identity.ID, err)
				}
			}
		})
	}
	defer func() {
		leave()
		conn.Close()
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		return nil
	})

	for {
		var env inboundEnvelope
		if err := conn.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket: read error for %s: %v", identity.ID, err)
			}
			return
		}

		if env.Event == eventJoinChat {
			if joined {
				continue
			}
			if err := h.hub.Join(conn, identity); err != nil {
				log.Printf("websocket: join for %s: %v", identity.ID, err)
				return
			}
			joined = true
			continue
		}

		// Everything else requires membership first.
		if !joined {
			continue
		}
		h.dispatch(conn, identity, env)
	}
}

func (h *Handler) dispatch(conn *Connection, identity types.Identity, env inboundEnvelope) {
	var err error

	switch env.Event {
	case eventSendMessage:
		var p sendMessagePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			_, err = h.hub.SendText(conn.ID(), p.Message)
		}
	case eventSendLocation:
		var p locationPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			_, err = h.hub.SendLocation(conn.ID(), p.Lat, p.Lng, p.Address)
		}
	case eventSendImage:
		var p fileRefPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			_, err = h.hub.SendImageRef(identity, types.FileRef{
				URL: p.URL, Name: p.Name, SizeBytes: p.SizeBytes,
			})
		}
	case eventSendModel3D:
		var p fileRefPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			_, err = h.hub.SendModel3DRef(identity, types.FileRef{
				URL: p.URL, Name: p.Name, SizeBytes: p.SizeBytes,
			})
		}
	case eventTyping:
		err = h.hub.SetTyping(conn.ID(), true)
	case eventStopTyping:
		err = h.hub.SetTyping(conn.ID(), false)
	case eventShareLocation:
		var p locationPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = h.hub.ShareLocation(conn.ID(), p.Lat, p.Lng)
		}
	case eventStopSharingLocation:
		err = h.hub.StopSharingLocation(conn.ID())
	case eventMapViewChange:
		var p mapViewPayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = h.hub.UpdateMapViewport(conn.ID(), types.MapViewport{
				Lat: p.Lat, Lng: p.Lng, Zoom: p.Zoom,
			})
		}
	case eventRouteUpdate:
		var p routePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = h.hub.UpdateRoute(conn.ID(), p.RoutePoints)
		}
	case eventVoiceChatJoin:
		err = h.hub.VoiceJoin(conn.ID())
	case eventVoiceChatLeave:
		err = h.hub.VoiceLeave(conn.ID())
	case eventVoiceMessage:
		var p voiceMessagePayload
		if err = json.Unmarshal(env.Data, &p); err == nil {
			err = h.hub.VoiceMessage(conn.ID(), p.AudioData, p.Timestamp)
		}
	default:
		log.Printf("websocket: unknown event %q from %s", env.Event, identity.ID)
		return
	}

	if err != nil {
		h.notifyError(conn, identity, err)
	}
}

// notifyError reports a failed action to the sender only. Shared room state
// is never touched on failure, so nobody else hears about it.
func (h *Handler) notifyError(conn *Connection, identity types.Identity, err error) {
	message := err.Error()
	if errors.Is(err, hub.ErrStorage) {
		message = "Failed to send message"
	}

	log.Printf("websocket: event from %s rejected: %v", identity.ID, err)
	writeErr := conn.WriteJSON(hub.Envelope{
		Event: hub.EventMessageError,
		Data:  hub.ErrorPayload{Error: message},
	})
	if writeErr != nil {
		log.Printf("websocket: error notification to %s failed: %v", identity.ID, writeErr)
	}
}
