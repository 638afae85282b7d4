package session

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/event"
)

// Transport is the relay as seen from the wallet side.
type Transport interface {
	// Subscribe delivers lifecycle events for pairings opened by clientID.
	Subscribe(ctx context.Context, clientID string, sink chan<- Event) (event.Subscription, error)
	// Connect opens a new pairing and asks for the given permissions.
	Connect(ctx context.Context, params ConnectParams) (*ConnectResult, error)
	// Request forwards req to the remote party and decodes its reply into
	// result. It blocks until the reply arrives or ctx ends.
	Request(ctx context.Context, req Request, result any) error
	// Disconnect tears down the session or pairing identified by topic.
	Disconnect(ctx context.Context, topic, reason string) error
}

type ConnectParams struct {
	ClientID string   `json:"clientId"`
	Chains   []string `json:"chains"`
	Methods  []string `json:"methods"`
	Metadata Metadata `json:"metadata"`
}

type ConnectResult struct {
	PairingTopic string     `json:"pairingTopic"`
	URI          PairingURI `json:"uri"`
}

// Request is a JSON-RPC call the remote signer should execute.
type Request struct {
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	ChainID string          `json:"chainId"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response answers a Request. Exactly one of Result and Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
