package hub

import (
	"time"

	"adminchat/pkg/types"
)

// Outbound event names on the room channel.
const (
	EventNewMessage          = "new-message"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventUserTyping          = "user-typing"
	EventUserLocationSharing = "user-location-sharing"
	EventMapViewUpdate       = "map-view-update"
	EventRouteUpdate         = "route-update"
	EventVoiceChatJoin       = "voice-chat-join"
	EventVoiceChatLeave      = "voice-chat-leave"
	EventVoiceMessage        = "voice-message"
	EventMessageError        = "message-error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// PresencePayload announces a participant joining or leaving the room.
type PresencePayload struct {
	Message   string         `json:"message"`
	User      types.Identity `json:"user"`
	Timestamp time.Time      `json:"timestamp"`
}

// TypingPayload relays a typing indicator to other members.
type TypingPayload struct {
	User     types.Identity `json:"user"`
	IsTyping bool           `json:"isTyping"`
}

// LocationSharingPayload announces a live location share starting or
// stopping. Coordinates are present only while sharing.
type LocationSharingPayload struct {
	UserID    string   `json:"userId"`
	Name      string   `json:"name,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	IsSharing bool     `json:"isSharing"`
}

// MapViewPayload relays a participant's map viewport verbatim.
type MapViewPayload struct {
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Zoom   float64 `json:"zoom"`
}

// RouteUpdatePayload carries a participant's full route. RoutePoints fully
// replaces any prior state on receipt; an empty list means cleared.
type RouteUpdatePayload struct {
	UserID      string             `json:"userId"`
	UserName    string             `json:"userName"`
	RoutePoints []types.RoutePoint `json:"routePoints"`
	Timestamp   int64              `json:"timestamp"`
}

// VoicePresencePayload announces voice-chat membership changes.
type VoicePresencePayload struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

// VoiceMessagePayload relays an inline voice clip to other members.
type VoiceMessagePayload struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	AudioData string `json:"audioData"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload reports a failed action back to its sender only.
type ErrorPayload struct {
	Error string `json:"error"`
}
