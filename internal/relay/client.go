package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/yolodolo42/wcwallet/internal/session"
	"go.uber.org/zap"
)

// Client talks to a Hub. It implements session.Transport for the wallet side
// and exposes the signer-side calls used by a remote signer.
type Client struct {
	rpc *rpc.Client
	log *zap.Logger
}

var _ session.Transport = (*Client)(nil)

type ClientOption func(*Client)

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Dial connects to the hub at url (ws://, http:// or an IPC path).
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w: %v", url, session.ErrTransportUnavailable, err)
	}
	return NewClient(c, opts...), nil
}

// NewClient wraps an existing rpc connection.
func NewClient(c *rpc.Client, opts ...ClientOption) *Client {
	cl := &Client{rpc: c, log: zap.NewNop()}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) Subscribe(ctx context.Context, clientID string, sink chan<- session.Event) (event.Subscription, error) {
	sub, err := c.rpc.Subscribe(ctx, Namespace, sink, "events", clientID)
	if err != nil {
		return nil, translate("subscribe events", err)
	}
	return sub, nil
}

func (c *Client) Connect(ctx context.Context, params session.ConnectParams) (*session.ConnectResult, error) {
	var res session.ConnectResult
	if err := c.rpc.CallContext(ctx, &res, "relay_connect", params); err != nil {
		return nil, translate("connect", err)
	}
	c.log.Debug("pairing opened", zap.String("pairing", res.PairingTopic))
	return &res, nil
}

func (c *Client) Request(ctx context.Context, req session.Request, result any) error {
	var raw json.RawMessage
	if err := c.rpc.CallContext(ctx, &raw, "relay_request", req); err != nil {
		return translate(req.Method, err)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", req.Method, err)
	}
	return nil
}

func (c *Client) Disconnect(ctx context.Context, topic, reason string) error {
	return translate("disconnect", c.rpc.CallContext(ctx, nil, "relay_disconnect", topic, reason))
}

// Pair joins the pairing encoded in uri and returns the wallet's proposal.
func (c *Client) Pair(ctx context.Context, uri session.PairingURI) (*session.Proposal, error) {
	var p session.Proposal
	if err := c.rpc.CallContext(ctx, &p, "relay_pair", uri); err != nil {
		return nil, translate("pair", err)
	}
	return &p, nil
}

// Approve grants accounts (CAIP-10 strings) and returns the session topic.
func (c *Client) Approve(ctx context.Context, pairingTopic string, accounts []string) (string, error) {
	var topic string
	if err := c.rpc.CallContext(ctx, &topic, "relay_approve", pairingTopic, accounts); err != nil {
		return "", translate("approve", err)
	}
	return topic, nil
}

func (c *Client) Reject(ctx context.Context, pairingTopic, reason string) error {
	return translate("reject", c.rpc.CallContext(ctx, nil, "relay_reject", pairingTopic, reason))
}

func (c *Client) Update(ctx context.Context, sessionTopic string, accounts []string) error {
	return translate("update", c.rpc.CallContext(ctx, nil, "relay_update", sessionTopic, accounts))
}

// SubscribeRequests delivers sign requests for sessionTopic.
func (c *Client) SubscribeRequests(ctx context.Context, sessionTopic string, ch chan<- PeerEvent) (event.Subscription, error) {
	sub, err := c.rpc.Subscribe(ctx, Namespace, ch, "requests", sessionTopic)
	if err != nil {
		return nil, translate("subscribe requests", err)
	}
	return sub, nil
}

func (c *Client) Respond(ctx context.Context, resp session.Response) error {
	return translate("respond", c.rpc.CallContext(ctx, nil, "relay_respond", resp))
}
