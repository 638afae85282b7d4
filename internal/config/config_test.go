package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/wcwallet/internal/session"
	"github.com/yolodolo42/wcwallet/internal/testutil"
)

func isolate(t *testing.T) {
	t.Helper()
	testutil.SetEnv(t, "HOME", testutil.TempDir(t))
	for _, key := range []string{"RELAY_URL", "CHAINS", "METHODS", "SIGN_TIMEOUT", "METADATA_NAME"} {
		testutil.UnsetEnv(t, EnvPrefix+"_"+key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "ws://127.0.0.1:8787", cfg.RelayURL)
	assert.Equal(t, []string{"celo:44787"}, cfg.Chains)
	assert.Equal(t, []string{"eth_sendTransaction", "eth_signTransaction", "personal_sign", "eth_signTypedData"}, cfg.Methods)
	assert.Equal(t, 5*time.Minute, cfg.NegotiationTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SignTimeout)
	assert.Equal(t, "wcwallet", cfg.Metadata.Name)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	isolate(t)

	path := filepath.Join(testutil.TempDir(t), "config.yaml")
	content := `
relay_url: ws://relay.example:9000
chains: ["celo:42220", "eip155:1"]
sign_timeout: 30s
metadata:
  name: shop
  icons: ["https://shop.example/icon.png"]
networks:
  local:
    name: Local
    chain_id: 1337
    rpc_urls: ["http://127.0.0.1:8545"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "ws://relay.example:9000", cfg.RelayURL)
	assert.Equal(t, []string{"celo:42220", "eip155:1"}, cfg.Chains)
	assert.Equal(t, 30*time.Second, cfg.SignTimeout)
	assert.Equal(t, "shop", cfg.Metadata.Name)
	assert.Equal(t, []string{"https://shop.example/icon.png"}, cfg.Metadata.Icons)

	require.Contains(t, cfg.Networks, "local")
	assert.Equal(t, int64(1337), cfg.Networks["local"].ChainIDInt)
	assert.Equal(t, []string{"http://127.0.0.1:8545"}, cfg.Networks["local"].RPCURLs)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load(viper.New(), filepath.Join(testutil.TempDir(t), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	isolate(t)
	testutil.SetEnv(t, "WCWALLET_RELAY_URL", "ws://env:1")
	testutil.SetEnv(t, "WCWALLET_SIGN_TIMEOUT", "5s")
	testutil.SetEnv(t, "WCWALLET_METADATA_NAME", "from-env")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "ws://env:1", cfg.RelayURL)
	assert.Equal(t, 5*time.Second, cfg.SignTimeout)
	assert.Equal(t, "from-env", cfg.Metadata.Name)
}

func TestConfig_Session(t *testing.T) {
	cfg := &Config{
		RelayURL:           "ws://x",
		Chains:             []string{"celo:44787"},
		Methods:            []string{"personal_sign"},
		NegotiationTimeout: time.Minute,
		Metadata:           session.Metadata{Name: "w"},
	}

	sc := cfg.Session()
	assert.Equal(t, cfg.Chains, sc.Chains)
	assert.Equal(t, time.Minute, sc.Timeout)
	assert.Nil(t, sc.OnURI)
	assert.NoError(t, cfg.Validate())

	cfg.Chains = []string{"celo"}
	assert.ErrorIs(t, cfg.Validate(), session.ErrInvalidConfig)

	cfg.Chains = []string{"celo:44787"}
	cfg.RelayURL = ""
	assert.ErrorIs(t, cfg.Validate(), session.ErrInvalidConfig)
}
