package service

import (
	"fmt"
	"sort"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/registry"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// RoomDirectory answers room queries from the registry. Rooms are not
// stored anywhere; an empty room simply does not show up.
type RoomDirectory struct {
	reg *registry.Registry
}

func NewRoomDirectory(reg *registry.Registry) *RoomDirectory {
	return &RoomDirectory{reg: reg}
}

// NewRoomID returns a fresh room id. The room exists once someone joins it.
func (d *RoomDirectory) NewRoomID() string {
	return uuid.NewString()
}

// ListRooms returns active rooms ordered by id, with cursor pagination.
func (d *RoomDirectory) ListRooms(limit int, cursor string) ([]domain.RoomSummary, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	rooms := d.reg.Rooms()
	start := 0
	if cur != nil {
		start = sort.Search(len(rooms), func(i int) bool { return rooms[i].ID > cur.ID })
	}
	end := min(start+limit, len(rooms))
	page := rooms[start:end]

	var next string
	if end < len(rooms) && len(page) > 0 {
		next, err = EncodeCursor(Cursor{ID: page[len(page)-1].ID})
		if err != nil {
			return nil, "", err
		}
	}
	return page, next, nil
}

// Roster lists a room's participants ordered by display name, then id.
func (d *RoomDirectory) Roster(roomID string) ([]domain.Participant, error) {
	id, err := domain.NormalizeRoomID(roomID)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}

	parts := d.reg.ListByRoom(id)
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].DisplayName != parts[j].DisplayName {
			return parts[i].DisplayName < parts[j].DisplayName
		}
		return parts[i].ConnectionID < parts[j].ConnectionID
	})
	return parts, nil
}
