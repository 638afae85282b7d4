// Package relay carries pairing, session and signing traffic between a wallet
// and a remote signer.
//
// Hub is the relay service. It is exposed as the JSON-RPC namespace "relay"
// on a go-ethereum rpc.Server, so it can be served over websocket or used
// in-process. Client wraps an rpc.Client and implements session.Transport for
// the wallet side plus the calls a remote signer makes (pair, approve,
// reject, update, respond).
//
// Lifecycle events flow to the wallet over an "events" subscription keyed by
// the wallet's client id. Sign requests flow to the remote signer over a
// "requests" subscription keyed by the session topic. A request blocks on the
// relay until the signer responds, the session is deleted or the relay's
// request timeout expires.
package relay
