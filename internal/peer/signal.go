package peer

import (
	"encoding/json"
	"fmt"
)

// SessionDescription travels as JSON inside the relay payload, in the same
// shape browsers produce for RTCSessionDescription.
type SessionDescription struct {
	Type string `json:"type"` // offer|answer
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

const (
	SDPOffer  = "offer"
	SDPAnswer = "answer"
)

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDescription(payload, want string) (SessionDescription, error) {
	var d SessionDescription
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return SessionDescription{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if d.Type != want {
		return SessionDescription{}, fmt.Errorf("%w: %q, want %q", ErrUnexpectedSignal, d.Type, want)
	}
	return d, nil
}

func decodeCandidate(payload string) (ICECandidate, error) {
	var c ICECandidate
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return ICECandidate{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return c, nil
}
