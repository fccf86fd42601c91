package types

import (
	"regexp"
	"strings"
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidCoordinates reports whether lat/lng fall within WGS84 bounds.
func IsValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// IsValidKind checks if the message kind is one of the allowed kinds.
func IsValidKind(kind string) bool {
	switch kind {
	case KindText, KindSystem, KindLocation, KindImage, KindModel3D:
		return true
	default:
		return false
	}
}

// validateBody trims the body and enforces the 1..MaxBodyLength bound.
// Length is counted in runes so multi-byte text gets the full budget.
func validateBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyMessage
	}
	if len([]rune(body)) > MaxBodyLength {
		return "", ErrMessageTooLong
	}
	return body, nil
}

func validateFileRef(ref FileRef) error {
	if ref.URL == "" || ref.Name == "" {
		return ErrMissingFileRef
	}
	if ref.SizeBytes < 0 {
		return ErrMissingFileRef
	}
	return nil
}
