package session

// State is the negotiation state. Closed is terminal.
type State int

const (
	Idle State = iota
	Pairing
	Paired
	SessionActive
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pairing:
		return "pairing"
	case Paired:
		return "paired"
	case SessionActive:
		return "session_active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists, per event kind, the states the event is legal in and the
// state it leads to. Anything missing is an illegal ordering. A session
// outlives its pairing once approved.
var transitions = map[EventKind]map[State]State{
	PairingProposal: {Idle: Pairing},
	PairingCreated:  {Pairing: Paired},
	PairingUpdated:  {Paired: Paired, SessionActive: SessionActive},
	PairingDeleted:  {Pairing: Closed, Paired: Closed, SessionActive: SessionActive},
	SessionProposal: {Paired: Paired},
	SessionCreated:  {Paired: SessionActive},
	SessionUpdated:  {SessionActive: SessionActive},
	SessionDeleted:  {Pairing: Closed, Paired: Closed, SessionActive: Closed},
}

// next reports the state ev leads to from s, and whether ev is legal in s.
func next(s State, kind EventKind) (State, bool) {
	targets, ok := transitions[kind]
	if !ok {
		return s, false
	}
	to, ok := targets[s]
	return to, ok
}
