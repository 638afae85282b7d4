package session

import (
	"fmt"
	"time"

	"github.com/yolodolo42/wcwallet/internal/caip"
)

// PairingURI encodes the relay connection parameters for the remote party.
// Its format belongs to the relay; it is passed on verbatim.
type PairingURI string

// Metadata describes this wallet to the remote party during pairing.
type Metadata struct {
	Name        string   `json:"name" mapstructure:"name"`
	Description string   `json:"description" mapstructure:"description"`
	URL         string   `json:"url" mapstructure:"url"`
	Icons       []string `json:"icons" mapstructure:"icons"`
}

// Config holds what a negotiation asks the remote party to authorize.
type Config struct {
	Chains   []string
	Methods  []string
	Metadata Metadata

	// Timeout bounds each wait inside a negotiation (URI and approval).
	// Zero means only the caller's context applies.
	Timeout time.Duration

	// OnURI receives the pairing URI once, as soon as the relay produces it.
	OnURI func(PairingURI)
}

// Validate checks that at least one well-formed chain and one method are set.
func (c Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("%w: no chains", ErrInvalidConfig)
	}
	for _, ch := range c.Chains {
		if _, err := caip.ParseChainID(ch); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if len(c.Methods) == 0 {
		return fmt.Errorf("%w: no methods", ErrInvalidConfig)
	}
	for _, m := range c.Methods {
		if m == "" {
			return fmt.Errorf("%w: empty method name", ErrInvalidConfig)
		}
	}
	return nil
}
