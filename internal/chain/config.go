package chain

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/yolodolo42/wcwallet/internal/caip"
)

// ChainConfig holds configuration for an EVM chain.
// Invariant: ChainID and ChainIDInt must always represent the same value.
// ChainIDInt exists for config files (big.Int doesn't serialize cleanly).
// ChainID is used at runtime for RPC calls and transaction signing.
type ChainConfig struct {
	Name           string   `yaml:"name" mapstructure:"name"`
	Namespace      string   `yaml:"namespace" mapstructure:"namespace"`
	ChainID        *big.Int `yaml:"-" mapstructure:"-"`
	ChainIDInt     int64    `yaml:"chain_id" mapstructure:"chain_id"`
	RPCURLs        []string `yaml:"rpc_urls" mapstructure:"rpc_urls"`
	ExplorerURL    string   `yaml:"explorer_url" mapstructure:"explorer_url"`
	NativeCurrency string   `yaml:"native_currency" mapstructure:"native_currency"`
	IsTestnet      bool     `yaml:"is_testnet" mapstructure:"is_testnet"`
}

// CAIP returns the chain's CAIP-2 identifier, e.g. "celo:44787".
func (c *ChainConfig) CAIP() caip.ChainID {
	ns := c.Namespace
	if ns == "" {
		ns = "eip155"
	}
	return caip.ChainID(fmt.Sprintf("%s:%d", ns, c.ChainIDInt))
}

// normalize fills ChainID from ChainIDInt after loading from a file.
func (c *ChainConfig) normalize() {
	if c.ChainID == nil {
		c.ChainID = big.NewInt(c.ChainIDInt)
	}
}

// DefaultChains returns the default chain configurations
func DefaultChains() map[string]*ChainConfig {
	return map[string]*ChainConfig{
		"celo": {
			Name:           "Celo Mainnet",
			Namespace:      "celo",
			ChainID:        big.NewInt(42220),
			ChainIDInt:     42220,
			RPCURLs:        []string{"https://forno.celo.org", "https://rpc.ankr.com/celo"},
			ExplorerURL:    "https://celoscan.io",
			NativeCurrency: "CELO",
			IsTestnet:      false,
		},
		"alfajores": {
			Name:           "Celo Alfajores Testnet",
			Namespace:      "celo",
			ChainID:        big.NewInt(44787),
			ChainIDInt:     44787,
			RPCURLs:        []string{"https://alfajores-forno.celo-testnet.org"},
			ExplorerURL:    "https://alfajores.celoscan.io",
			NativeCurrency: "CELO",
			IsTestnet:      true,
		},
		"ethereum": {
			Name:           "Ethereum Mainnet",
			ChainID:        big.NewInt(1),
			ChainIDInt:     1,
			RPCURLs:        []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
			ExplorerURL:    "https://etherscan.io",
			NativeCurrency: "ETH",
			IsTestnet:      false,
		},
		"sepolia": {
			Name:           "Sepolia Testnet",
			ChainID:        big.NewInt(11155111),
			ChainIDInt:     11155111,
			RPCURLs:        []string{"https://rpc.sepolia.org", "https://sepolia.drpc.org"},
			ExplorerURL:    "https://sepolia.etherscan.io",
			NativeCurrency: "ETH",
			IsTestnet:      true,
		},
	}
}

// FindByCAIP returns the name and config of the chain identified by id.
func FindByCAIP(chains map[string]*ChainConfig, id caip.ChainID) (string, *ChainConfig, error) {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if chains[name].CAIP() == id {
			return name, chains[name], nil
		}
	}
	return "", nil, fmt.Errorf("no chain configured for %s", id)
}
