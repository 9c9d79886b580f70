package http

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

type RoomItem struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
}

type RoomsListResponse struct {
	Items      []RoomItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type ParticipantItem struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
	MicEnabled   bool   `json:"mic_enabled"`
	VideoEnabled bool   `json:"video_enabled"`
	JoinedAt     int64  `json:"joined_at_unix"`
}

type ParticipantsResponse struct {
	RoomID string            `json:"room_id"`
	Items  []ParticipantItem `json:"items"`
}
