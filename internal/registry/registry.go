// Package registry keeps the in-memory participant table of the signaling
// server. It is the single synchronization point for room membership: every
// exported method is atomic with respect to every other.
package registry

import (
	"sort"
	"sync"

	"github.com/cwrk-planet/signal-service/internal/domain"

	"github.com/samber/lo"
)

type Registry struct {
	mu    sync.RWMutex
	byID  map[string]domain.Participant
	rooms map[string]map[string]struct{} // roomID -> set of connection ids
}

func New() *Registry {
	return &Registry{
		byID:  make(map[string]domain.Participant),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Upsert stores p under p.ConnectionID, moving it between rooms if needed.
// It reports whether the entry is new.
func (r *Registry) Upsert(p domain.Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.upsertLocked(p)
}

// Admit inserts p and returns the other members of p's room as they were
// right before the insertion. An existing entry is left untouched and the
// current roster is returned with created=false.
func (r *Registry) Admit(p domain.Participant) (others []domain.Participant, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID[p.ConnectionID]; ok && cur.RoomID == p.RoomID {
		return r.listLocked(p.RoomID, p.ConnectionID), false
	}

	others = r.listLocked(p.RoomID, p.ConnectionID)
	r.upsertLocked(p)
	return others, true
}

// Remove deletes the entry for id. Only the first of several concurrent
// callers gets ok=true.
func (r *Registry) Remove(id string) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	delete(r.byID, id)
	r.unindexLocked(p.RoomID, id)
	return p, true
}

func (r *Registry) Get(id string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	return p, ok
}

// SetMedia updates one media flag in place. A missing entry stays missing.
func (r *Registry) SetMedia(id string, kind domain.MediaKind, enabled bool) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	p = p.WithMedia(kind, enabled)
	r.byID[id] = p
	return p, true
}

// ListByRoom returns a snapshot of the room. Order is unspecified.
func (r *Registry) ListByRoom(roomID string) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.listLocked(roomID, "")
}

// Rooms returns every room that currently has at least one member, sorted by id.
func (r *Registry) Rooms() []domain.RoomSummary {
	r.mu.RLock()
	out := lo.MapToSlice(r.rooms, func(id string, members map[string]struct{}) domain.RoomSummary {
		return domain.RoomSummary{ID: id, Participants: len(members)}
	})
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

func (r *Registry) upsertLocked(p domain.Participant) bool {
	prev, existed := r.byID[p.ConnectionID]
	if existed && prev.RoomID != p.RoomID {
		r.unindexLocked(prev.RoomID, p.ConnectionID)
	}
	r.byID[p.ConnectionID] = p

	set, ok := r.rooms[p.RoomID]
	if !ok {
		set = make(map[string]struct{})
		r.rooms[p.RoomID] = set
	}
	set[p.ConnectionID] = struct{}{}

	return !existed
}

func (r *Registry) unindexLocked(roomID, id string) {
	set, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *Registry) listLocked(roomID, except string) []domain.Participant {
	set := r.rooms[roomID]
	ids := lo.Without(lo.Keys(set), except)
	return lo.Map(ids, func(id string, _ int) domain.Participant {
		return r.byID[id]
	})
}
