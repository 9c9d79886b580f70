package store

import "time"

type Participant struct {
	ConnectionID string
	DisplayName  string
	MicEnabled   bool
	VideoEnabled bool
	HasStream    bool
}

// ChatLine is one entry of the chat log. System lines are generated
// locally, e.g. on roster changes.
type ChatLine struct {
	Text   string
	Sender string
	System bool
	At     time.Time
}

// State is everything the presentation layer renders.
type State struct {
	ConnectionID string
	RoomID       string
	Username     string
	Connected    bool

	// Participants are remote members in arrival order.
	Participants []Participant
	Chat         []ChatLine

	MicEnabled   bool
	VideoEnabled bool
	MediaReady   bool
}

func (s State) clone() State {
	out := s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Chat = append([]ChatLine(nil), s.Chat...)
	return out
}

func (s *State) index(id string) int {
	for i, p := range s.Participants {
		if p.ConnectionID == id {
			return i
		}
	}
	return -1
}

func (s *State) Participant(id string) (Participant, bool) {
	if i := s.index(id); i >= 0 {
		return s.Participants[i], true
	}
	return Participant{}, false
}

// UpsertParticipant replaces an existing entry in place or appends a new
// one. It reports whether the participant was new.
func (s *State) UpsertParticipant(p Participant) bool {
	if i := s.index(p.ConnectionID); i >= 0 {
		p.HasStream = p.HasStream || s.Participants[i].HasStream
		s.Participants[i] = p
		return false
	}
	s.Participants = append(s.Participants, p)
	return true
}

func (s *State) RemoveParticipant(id string) (Participant, bool) {
	i := s.index(id)
	if i < 0 {
		return Participant{}, false
	}
	p := s.Participants[i]
	s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
	return p, true
}

// UpdateParticipant applies fn to the entry for id, if present.
func (s *State) UpdateParticipant(id string, fn func(*Participant)) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	fn(&s.Participants[i])
	return true
}

func (s *State) AppendChat(line ChatLine) {
	s.Chat = append(s.Chat, line)
}

// ResetRoom clears room membership while keeping the connection.
func (s *State) ResetRoom() {
	*s = State{ConnectionID: s.ConnectionID, Connected: s.Connected}
}
