package domain

import (
	"strings"
	"time"
)

const (
	MaxRoomIDLength      = 128
	MaxDisplayNameLength = 64
	DefaultDisplayName   = "Guest"
)

// Participant is the server-side record of one live connection.
// DisplayName is fixed at join time.
type Participant struct {
	ConnectionID string
	RoomID       string
	DisplayName  string
	MicEnabled   bool
	VideoEnabled bool
	JoinedAt     time.Time
}

// WithMedia returns a copy with the flag for kind set.
func (p Participant) WithMedia(kind MediaKind, enabled bool) Participant {
	switch kind {
	case MediaMic:
		p.MicEnabled = enabled
	case MediaVideo:
		p.VideoEnabled = enabled
	}
	return p
}

func NormalizeRoomID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > MaxRoomIDLength {
		return "", ErrInvalidRoom
	}
	return s, nil
}

func NormalizeDisplayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultDisplayName
	}
	r := []rune(s)
	if len(r) > MaxDisplayNameLength {
		s = string(r[:MaxDisplayNameLength])
	}
	return s
}
