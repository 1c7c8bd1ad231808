package domain

import "time"

// MessageOrigin records which delivery channel produced a message.
type MessageOrigin string

const (
	OriginPush MessageOrigin = "push"
	OriginREST MessageOrigin = "rest"
)

// MessageIdentity is the two-state identity of a chat message: Pending while
// the message only exists locally (keyed by a client-generated local key),
// Confirmed once a server-assigned identifier is known. Two messages are the
// same entity iff both are Confirmed with equal server IDs.
type MessageIdentity struct {
	ServerID string `json:"id,omitempty"`
	LocalKey string `json:"-"`
}

func PendingIdentity(localKey string) MessageIdentity {
	return MessageIdentity{LocalKey: localKey}
}

func ConfirmedIdentity(serverID string) MessageIdentity {
	return MessageIdentity{ServerID: serverID}
}

func (id MessageIdentity) Confirmed() bool { return id.ServerID != "" }

// Same reports whether two identities denote the same entity. Pending
// identities are never equal to anything but themselves.
func (id MessageIdentity) Same(other MessageIdentity) bool {
	if id.Confirmed() && other.Confirmed() {
		return id.ServerID == other.ServerID
	}
	return id.LocalKey != "" && id.LocalKey == other.LocalKey
}

type ChatMessage struct {
	Identity  MessageIdentity
	Content   string
	Timestamp string // ISO-8601 as carried on the wire
	Sender    Username
	Receiver  Username
	Origin    MessageOrigin
	CreatedAt time.Time // local receive/create time, drives the dedup freshness window
}

// WireMessage is the JSON shape shared by the STOMP body and the REST API.
type WireMessage struct {
	ID        string `json:"id,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	Sender    string `json:"senderUsername"`
	Receiver  string `json:"receiverUsername"`
}

func (w WireMessage) ToChatMessage(origin MessageOrigin) ChatMessage {
	m := ChatMessage{
		Content:   w.Content,
		Timestamp: w.Timestamp,
		Sender:    Username(w.Sender),
		Receiver:  Username(w.Receiver),
		Origin:    origin,
		CreatedAt: time.Now(),
	}
	if w.ID != "" {
		m.Identity = ConfirmedIdentity(w.ID)
	}
	return m
}

func (m ChatMessage) ToWire() WireMessage {
	return WireMessage{
		ID:        m.Identity.ServerID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Sender:    string(m.Sender),
		Receiver:  string(m.Receiver),
	}
}
