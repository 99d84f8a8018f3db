// Package addresscodec implements Component A of the treasury core:
// validating, normalizing, and comparing on-chain identities. It knows two external address classes carried as bech32m
// strings — native-taproot-style, where the witness program IS the
// on-chain identity, and post-quantum, where the witness program is a
// hash that must be resolved against the chain's public-key index.
package addresscodec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/errs"
)

var internalRe = regexp.MustCompile(`^0[xX][0-9a-fA-F]{64}$`)

// IsInternal reports whether s is already a canonical (or case-insensitive)
// internal address string.
func IsInternal(s string) bool { return internalRe.MatchString(s) }

// Zero returns the all-zero sentinel internal address.
func Zero() addr.Address { return addr.Zero }

// Equal reports byte-equality of two addresses after normalization.
// Callers that already hold normalized addr.Address values should use
// addr.Equal directly; this helper is for comparing two human-format
// strings.
func Equal(ctx context.Context, r Resolver, a, b string) (bool, error) {
	na, err := Normalize(ctx, r, a)
	if err != nil {
		return false, err
	}
	nb, err := Normalize(ctx, r, b)
	if err != nil {
		return false, err
	}
	return addr.Equal(na, nb), nil
}

// PubKeyIndexLookup is the chain RPC call Resolver implementations use
// to translate a post-quantum witness-program hash into its on-chain
// identity. If the RPC echoes the program back unchanged, the address
// is considered not yet observed on-chain.
type PubKeyIndexLookup func(ctx context.Context, program []byte) (addr.Address, error)

// Resolver resolves a post-quantum witness program to its 32-byte
// internal identity. It is injected so tests can stub the RPC call.
type Resolver interface {
	ResolvePostQuantum(ctx context.Context, program []byte) (addr.Address, error)
}

// RPCResolver adapts a raw lookup function to the Resolver interface.
type RPCResolver struct {
	Lookup PubKeyIndexLookup
}

func (r RPCResolver) ResolvePostQuantum(ctx context.Context, program []byte) (addr.Address, error) {
	resolved, err := r.Lookup(ctx, program)
	if err != nil {
		return addr.Address{}, fmt.Errorf("resolve post-quantum address: %w", err)
	}
	// Echoing the program back unchanged means the chain has never
	// observed this identity; normalization must fail rather than
	// silently accepting the hash as if it were the identity.
	if len(program) == 32 && addr.Address(([32]byte)(program)) == resolved {
		return addr.Address{}, fmt.Errorf("post-quantum address not yet observed on-chain: %w", errs.ErrUnresolvable)
	}
	return resolved, nil
}

// Prefixes groups the known bech32m human-readable prefixes for each
// address class. The chain publishes a fixed prefix list per network;
// callers construct one Prefixes value per network they talk to.
type Prefixes struct {
	NativeTaproot []string
	PostQuantum   []string
}

// DefaultPrefixes are the mainnet prefixes this codec recognizes out of
// the box. Test networks should construct their own Prefixes value.
var DefaultPrefixes = Prefixes{
	NativeTaproot: []string{"bh", "bhtb"},
	PostQuantum:   []string{"bhpq", "bhpqtb"},
}

func classify(hrp string, p Prefixes) (isNative, isPQ bool) {
	for _, h := range p.NativeTaproot {
		if h == hrp {
			return true, false
		}
	}
	for _, h := range p.PostQuantum {
		if h == hrp {
			return false, true
		}
	}
	return false, false
}

// Normalize converts a human-format or already-internal address string
// into its canonical 32-byte internal form. Resolution
// errors are always recoverable — Normalize never panics.
func Normalize(ctx context.Context, r Resolver, s string) (addr.Address, error) {
	return NormalizeWithPrefixes(ctx, r, DefaultPrefixes, s)
}

// NormalizeWithPrefixes is Normalize parameterized over the prefix
// table, for networks other than mainnet.
func NormalizeWithPrefixes(ctx context.Context, r Resolver, prefixes Prefixes, s string) (addr.Address, error) {
	if IsInternal(s) {
		a, err := addr.FromHex(s)
		if err != nil {
			return addr.Address{}, fmt.Errorf("%w: %s", errs.ErrNotAnAddress, s)
		}
		return a, nil
	}

	hrp, data5, encoding, err := bech32.DecodeGeneric(s)
	if err != nil {
		return addr.Address{}, fmt.Errorf("%w: %s", errs.ErrNotAnAddress, s)
	}
	hrp = strings.ToLower(hrp)
	if len(data5) == 0 {
		return addr.Address{}, fmt.Errorf("%w: empty bech32m payload: %s", errs.ErrNotAnAddress, s)
	}
	version := int(data5[0])
	program, err := bech32.ConvertBits(data5[1:], 5, 8, false)
	if err != nil {
		return addr.Address{}, fmt.Errorf("%w: %s", errs.ErrNotAnAddress, s)
	}

	isNative, isPQ := classify(hrp, prefixes)

	switch {
	case isNative:
		if encoding != bech32.Bech32m || version < 1 || len(program) != 32 {
			return addr.Address{}, fmt.Errorf("%w: not a v1+ 32-byte native-taproot program: %s", errs.ErrNotAnAddress, s)
		}
		var out addr.Address
		copy(out[:], program)
		return out, nil

	case isPQ:
		if r == nil {
			return addr.Address{}, fmt.Errorf("%w: no resolver configured for post-quantum address %s", errs.ErrUnresolvable, s)
		}
		return r.ResolvePostQuantum(ctx, program)

	default:
		return addr.Address{}, fmt.Errorf("%w: unrecognized prefix %q", errs.ErrNotAnAddress, hrp)
	}
}
