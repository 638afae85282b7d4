//go:build integration
// +build integration

package cli

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/wcwallet/internal/config"
	"github.com/yolodolo42/wcwallet/internal/peer"
	"github.com/yolodolo42/wcwallet/internal/relay"
	"github.com/yolodolo42/wcwallet/internal/session"
	"github.com/yolodolo42/wcwallet/internal/testutil"
	"github.com/yolodolo42/wcwallet/internal/wallet"
)

// TestScenario_SignOverWebsocketRelay drives the command plumbing against a
// real websocket relay with a keystore-backed peer on the other side.
func TestScenario_SignOverWebsocketRelay(t *testing.T) {
	hub := relay.NewHub()
	handler, err := hub.Handler([]string{"*"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	cfg = &config.Config{
		RelayURL:           url,
		Chains:             []string{"celo:44787"},
		Methods:            []string{wallet.MethodPersonalSign},
		NegotiationTimeout: time.Minute,
		SignTimeout:        time.Minute,
		Metadata:           session.Metadata{Name: "scenario"},
	}

	ctx := testutil.Context(t, 30*time.Second)

	km, err := wallet.NewKeystoreManager(testutil.TempDir(t), wallet.WithLightScrypt())
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	acc, err := km.ImportKey(common.Bytes2Hex(crypto.FromECDSA(key)), "password123")
	require.NoError(t, err)
	signer, err := km.GetSigner(acc.Address, "password123")
	require.NoError(t, err)

	r, err := openRemote(ctx)
	require.NoError(t, err)
	defer r.close(context.Background())

	uris := make(chan string, 1)
	r.setPrinter(func(block string) {
		lines := strings.Split(block, "\n")
		uris <- strings.TrimSpace(lines[len(lines)-1])
	})

	connected := make(chan error, 1)
	go func() { connected <- r.connect(ctx) }()

	var uri string
	select {
	case uri = <-uris:
	case <-ctx.Done():
		t.Fatal("no pairing uri")
	}

	pc, err := relay.Dial(ctx, url)
	require.NoError(t, err)
	defer pc.Close()

	resp := peer.New(pc, "celo:44787", []wallet.Signer{signer})
	_, err = resp.Pair(ctx, session.PairingURI(uri))
	require.NoError(t, err)
	_, err = resp.Approve(ctx)
	require.NoError(t, err)
	go func() { _ = resp.Serve(ctx) }()

	require.NoError(t, <-connected)
	assert.Equal(t, []common.Address{acc.Address}, r.wallet.Accounts())

	msg := []byte("scenario")
	sig, err := r.wallet.SignPersonalMessage(ctx, msg, acc.Address)
	require.NoError(t, err)

	got, err := recoverSigner(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, acc.Address, got)
}
