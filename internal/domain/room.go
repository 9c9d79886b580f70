package domain

// RoomSummary is a derived view; rooms are never stored on their own.
type RoomSummary struct {
	ID           string
	Participants int
}
