package peer

// State is the negotiation state of one remote participant.
type State int

const (
	Idle State = iota
	OfferPending
	Stable
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferPending:
		return "offer_pending"
	case Stable:
		return "stable"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Stable -> Stable is an answered renegotiation offer from the remote side.
// Idle -> Stable is the responder branch.
var transitions = map[State][]State{
	Idle:         {OfferPending, Stable, Closed},
	OfferPending: {Stable, Closed},
	Stable:       {OfferPending, Stable, Closed},
}

func (s State) CanTransition(to State) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}
