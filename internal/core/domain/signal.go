package domain

import (
	"encoding/json"
	"fmt"
)

// SignalType tags the call-control signal variants carried over the channel.
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalEnd          SignalType = "end"
	SignalReject       SignalType = "reject"
)

// SessionDescription is the SDP payload of an offer or answer signal.
type SessionDescription struct {
	Type string `json:"sdpType"`
	SDP  string `json:"sdp"`
}

// ICECandidate carries one trickled candidate with its media-line identifiers.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// CallSignal is the tagged variant decoded once at the channel boundary.
// Exactly one of Description/Candidate/Reason is populated, per Type.
type CallSignal struct {
	Type        SignalType
	From        Username
	To          Username
	Description *SessionDescription
	Candidate   *ICECandidate
	Reason      string
}

// wireSignal is the flat JSON mapping used on the wire.
type wireSignal struct {
	Type          string  `json:"type"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	SDP           string  `json:"sdp,omitempty"`
	SDPType       string  `json:"sdpType,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Validate enforces the signal invariants: a known type, non-empty from/to,
// and the payload the type requires.
func (s CallSignal) Validate() error {
	if s.From == "" || s.To == "" {
		return fmt.Errorf("%w: from=%q to=%q", ErrInvalidSignal, s.From, s.To)
	}
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.Description == nil || s.Description.SDP == "" {
			return fmt.Errorf("%w: %s signal without sdp", ErrInvalidSignal, s.Type)
		}
	case SignalICECandidate:
		if s.Candidate == nil || s.Candidate.Candidate == "" {
			return fmt.Errorf("%w: ice-candidate signal without candidate", ErrInvalidSignal)
		}
	case SignalEnd, SignalReject:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSignal, s.Type)
	}
	return nil
}

func (s CallSignal) MarshalJSON() ([]byte, error) {
	w := wireSignal{
		Type:   string(s.Type),
		From:   string(s.From),
		To:     string(s.To),
		Reason: s.Reason,
	}
	if s.Description != nil {
		w.SDP = s.Description.SDP
		w.SDPType = s.Description.Type
	}
	if s.Candidate != nil {
		w.Candidate = s.Candidate.Candidate
		w.SDPMid = s.Candidate.SDPMid
		w.SDPMLineIndex = s.Candidate.SDPMLineIndex
	}
	return json.Marshal(w)
}

func (s *CallSignal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := CallSignal{
		Type:   SignalType(w.Type),
		From:   Username(w.From),
		To:     Username(w.To),
		Reason: w.Reason,
	}
	switch out.Type {
	case SignalOffer, SignalAnswer:
		out.Description = &SessionDescription{Type: w.SDPType, SDP: w.SDP}
	case SignalICECandidate:
		out.Candidate = &ICECandidate{
			Candidate:     w.Candidate,
			SDPMid:        w.SDPMid,
			SDPMLineIndex: w.SDPMLineIndex,
		}
	}
	*s = out
	return nil
}

// DecodeCallSignal parses and validates one signal from a channel body.
func DecodeCallSignal(data []byte) (CallSignal, error) {
	var s CallSignal
	if err := json.Unmarshal(data, &s); err != nil {
		return CallSignal{}, fmt.Errorf("decode call signal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return CallSignal{}, err
	}
	return s, nil
}
