package session

// EventKind names one of the eight relay lifecycle events.
type EventKind string

const (
	PairingProposal EventKind = "pairing_proposal"
	PairingCreated  EventKind = "pairing_created"
	PairingUpdated  EventKind = "pairing_updated"
	PairingDeleted  EventKind = "pairing_deleted"

	SessionProposal EventKind = "session_proposal"
	SessionCreated  EventKind = "session_created"
	SessionUpdated  EventKind = "session_updated"
	SessionDeleted  EventKind = "session_deleted"
)

// Event is a lifecycle notification delivered by the relay.
type Event struct {
	ID           string        `json:"id"`
	Kind         EventKind     `json:"kind"`
	PairingTopic string        `json:"pairingTopic"`
	URI          PairingURI    `json:"uri,omitempty"`
	Session      *SessionState `json:"session,omitempty"`
	Proposal     *Proposal     `json:"proposal,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// SessionState is the relay's view of an authorized session.
type SessionState struct {
	Topic    string   `json:"topic"`
	Chains   []string `json:"chains"`
	Methods  []string `json:"methods"`
	Accounts []string `json:"accounts"`
}

// Proposal is what the wallet asked the remote party to approve.
type Proposal struct {
	PairingTopic string   `json:"pairingTopic"`
	Chains       []string `json:"chains"`
	Methods      []string `json:"methods"`
	Metadata     Metadata `json:"metadata"`
}

// SessionEventKind classifies notifications published to negotiator
// subscribers.
type SessionEventKind int

const (
	SessionActivated SessionEventKind = iota
	SessionChanged
	SessionEnded
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionActivated:
		return "activated"
	case SessionChanged:
		return "changed"
	case SessionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SessionEvent tells subscribers the active session appeared, changed or ended.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
	Reason  string
}
