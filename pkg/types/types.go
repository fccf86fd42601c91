package types

import (
	"time"

	"github.com/google/uuid"
)

// Message kinds stored in the chat history. Every persisted message carries
// exactly one kind; payload fields are populated iff the kind matches.
const (
	KindText     = "text"
	KindSystem   = "system"
	KindLocation = "location"
	KindImage    = "image"
	KindModel3D  = "model3d"
)

// MaxBodyLength is the upper bound on a message body after trimming.
const MaxBodyLength = 500

// Identity is the display-ready participant identity resolved by the
// identity provider at join time. The hub treats it as read-only.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// GeoPoint is a latitude/longitude pair with an optional human-readable
// address, used both for location messages and live location sharing.
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// FileRef references an attachment already accepted by the upload path.
// The hub only ever carries the reference, never the bytes.
type FileRef struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
}

// MapViewport is a participant's last reported map view, relayed verbatim
// to other members and never persisted.
type MapViewport struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom float64 `json:"zoom"`
}

// RoutePoint is one waypoint of a participant's sketched route. SequenceID
// is a monotonic token (client creation timestamp) used as a removable key,
// not an array index.
type RoutePoint struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	SequenceID int64   `json:"sequenceId"`
}

// ChatMessage is a durable room message. Kind selects which payload pointer
// is set; Body is always present (a generated caption for non-text kinds).
// IsRead is the only field ever mutated after creation.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    Identity  `json:"sender"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	Location  *GeoPoint `json:"location,omitempty"`
	Image     *FileRef  `json:"image,omitempty"`
	Model3D   *FileRef  `json:"model3d,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewTextMessage builds a text message, trimming and bounding the body.
func NewTextMessage(sender Identity, body string) (*ChatMessage, error) {
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}
	if !IsValidUserID(sender.ID) {
		return nil, ErrInvalidUserID
	}
	return newMessage(sender, KindText, body), nil
}

// NewSystemMessage builds a system notice attributed to a participant.
func NewSystemMessage(sender Identity, body string) (*ChatMessage, error) {
	body, err := validateBody(body)
	if err != nil {
		return nil, err
	}
	return newMessage(sender, KindSystem, body), nil
}

// NewLocationMessage builds a location message with a fixed caption.
func NewLocationMessage(sender Identity, loc GeoPoint) (*ChatMessage, error) {
	if !IsValidCoordinates(loc.Lat, loc.Lng) {
		return nil, ErrInvalidCoordinates
	}
	if !IsValidUserID(sender.ID) {
		return nil, ErrInvalidUserID
	}
	m := newMessage(sender, KindLocation, "📍 Shared a location")
	m.Location = &loc
	return m, nil
}

// NewImageMessage builds an image message carrying only the upload reference.
func NewImageMessage(sender Identity, ref FileRef) (*ChatMessage, error) {
	if err := validateFileRef(ref); err != nil {
		return nil, err
	}
	if !IsValidUserID(sender.ID) {
		return nil, ErrInvalidUserID
	}
	m := newMessage(sender, KindImage, "📷 "+ref.Name)
	m.Image = &ref
	return m, nil
}

// NewModel3DMessage builds a 3D-model message carrying only the upload reference.
func NewModel3DMessage(sender Identity, ref FileRef) (*ChatMessage, error) {
	if err := validateFileRef(ref); err != nil {
		return nil, err
	}
	if !IsValidUserID(sender.ID) {
		return nil, ErrInvalidUserID
	}
	m := newMessage(sender, KindModel3D, "🎮 "+ref.Name)
	m.Model3D = &ref
	return m, nil
}

func newMessage(sender Identity, kind, body string) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.New().String(),
		Sender:    sender,
		Kind:      kind,
		Body:      body,
		CreatedAt: time.Now(),
	}
}
