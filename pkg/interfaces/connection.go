package interfaces

// Connection is a live client connection as seen by the hub. Implementations
// must make WriteJSON safe for concurrent use (single-writer pattern) so the
// hub can fan out without coordinating with the transport.
type Connection interface {
	// ID returns the connection's unique identifier, assigned at accept time.
	ID() string

	// WriteJSON sends a JSON-encoded event to the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close closes the connection and releases its resources.
	Close() error
}
