// Package caip parses chain-qualified identifiers used by remote signers to
// advertise accounts (CAIP-2 chain ids and CAIP-10 account ids).
package caip

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMalformedChain   = errors.New("malformed chain id")
	ErrMalformedAccount = errors.New("malformed account id")
)

var (
	namespaceRe = regexp.MustCompile(`^[-a-z0-9]{3,8}$`)
	referenceRe = regexp.MustCompile(`^[-_a-zA-Z0-9]{1,32}$`)
)

// ChainID is a CAIP-2 chain identifier such as "eip155:1" or "celo:44787".
type ChainID string

// ParseChainID validates s and returns it as a ChainID.
func ParseChainID(s string) (ChainID, error) {
	ns, ref, ok := strings.Cut(s, ":")
	if !ok || !namespaceRe.MatchString(ns) || !referenceRe.MatchString(ref) {
		return "", fmt.Errorf("%w: %q", ErrMalformedChain, s)
	}
	return ChainID(s), nil
}

// Namespace returns the part before the colon.
func (c ChainID) Namespace() string {
	ns, _, _ := strings.Cut(string(c), ":")
	return ns
}

// Reference returns the part after the colon.
func (c ChainID) Reference() string {
	_, ref, _ := strings.Cut(string(c), ":")
	return ref
}

// EVMChainID returns the numeric chain id for EVM namespaces, or nil when the
// reference is not a decimal number.
func (c ChainID) EVMChainID() *big.Int {
	n, ok := new(big.Int).SetString(c.Reference(), 10)
	if !ok {
		return nil
	}
	return n
}

func (c ChainID) String() string { return string(c) }

// Account is one address authorized on one chain.
type Account struct {
	Address common.Address
	Chain   ChainID
}

// String renders the account in CAIP-10 form.
func (a Account) String() string {
	return fmt.Sprintf("%s:%s", a.Chain, a.Address.Hex())
}

// Key is the case-normalized lookup key for the account's address.
func (a Account) Key() string {
	return NormalizeAddress(a.Address)
}

// NormalizeAddress lower-cases the hex form of addr.
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseAccount accepts either the CAIP-10 form "celo:44787:0xabc..." or the
// older "0xabc...@celo:44787" form some wallets still emit.
func ParseAccount(s string) (Account, error) {
	s = strings.TrimSpace(s)

	var chain, addr string
	if a, c, ok := strings.Cut(s, "@"); ok {
		addr, chain = a, c
	} else {
		i := strings.LastIndex(s, ":")
		if i < 0 {
			return Account{}, fmt.Errorf("%w: %q", ErrMalformedAccount, s)
		}
		chain, addr = s[:i], s[i+1:]
	}

	id, err := ParseChainID(chain)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %q: %v", ErrMalformedAccount, s, err)
	}
	if !common.IsHexAddress(addr) {
		return Account{}, fmt.Errorf("%w: %q: invalid address", ErrMalformedAccount, s)
	}

	return Account{Address: common.HexToAddress(addr), Chain: id}, nil
}

// ParseAccounts parses every entry of raw. Malformed entries are skipped and
// reported in errs so callers can log them.
func ParseAccounts(raw []string) (accounts []Account, errs []error) {
	accounts = make([]Account, 0, len(raw))
	for _, s := range raw {
		acc, err := ParseAccount(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		accounts = append(accounts, acc)
	}
	return accounts, errs
}
