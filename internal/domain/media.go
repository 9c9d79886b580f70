package domain

import "fmt"

type MediaKind string

const (
	MediaMic   MediaKind = "mic"
	MediaVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaMic, MediaVideo:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMediaKind, s)
}
