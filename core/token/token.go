// Package token implements Component D, the Token Adapter: a uniform
// simulate-then-send view over a fungible-token contract.
package token

import (
	"context"
	"fmt"
	"math/big"

	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/errs"
	"blockhost-treasury/internal/rpc"
)

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

var logger = log.StandardLogger()

// Metadata is a token's static identity.
type Metadata struct {
	Decimals int
	Symbol   string
}

// Adapter is a uniform query/transfer view over one fungible-token
// contract address.
type Adapter struct {
	Provider rpc.Provider
	Token    addr.Address
	Network  string
}

// New builds an Adapter for the given token contract.
func New(p rpc.Provider, token addr.Address, network string) *Adapter {
	return &Adapter{Provider: p, Token: token, Network: network}
}

func (a *Adapter) BalanceOf(ctx context.Context, owner addr.Address) (*big.Int, error) {
	resp, err := a.Provider.ReadStorage(ctx, a.Token, "balanceOf", map[string]any{"owner": owner.String()})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTokenCallFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s", errs.ErrTokenCallFailed, resp.Err())
	}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode balance: %v", errs.ErrTokenCallFailed, err)
	}
	n, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed balance %q", errs.ErrTokenCallFailed, out.Balance)
	}
	return n, nil
}

func (a *Adapter) Metadata(ctx context.Context) (Metadata, error) {
	resp, err := a.Provider.ReadStorage(ctx, a.Token, "metadata", nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", errs.ErrTokenCallFailed, err)
	}
	if resp.IsError() {
		return Metadata{}, fmt.Errorf("%w: %s", errs.ErrTokenCallFailed, resp.Err())
	}
	var out struct {
		Decimals int    `json:"decimals"`
		Symbol   string `json:"symbol"`
	}
	if err := resp.Decode(&out); err != nil {
		return Metadata{}, fmt.Errorf("%w: decode metadata: %v", errs.ErrTokenCallFailed, err)
	}
	return Metadata{Decimals: out.Decimals, Symbol: out.Symbol}, nil
}

func (a *Adapter) Allowance(ctx context.Context, owner, spender addr.Address) (*big.Int, error) {
	resp, err := a.Provider.ReadStorage(ctx, a.Token, "allowance", map[string]any{
		"owner": owner.String(), "spender": spender.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrTokenCallFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s", errs.ErrTokenCallFailed, resp.Err())
	}
	var out struct {
		Allowance string `json:"allowance"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode allowance: %v", errs.ErrTokenCallFailed, err)
	}
	n, ok := new(big.Int).SetString(out.Allowance, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed allowance %q", errs.ErrTokenCallFailed, out.Allowance)
	}
	return n, nil
}

// Transfer simulates then sends a transfer from the signer's wallet to
// to for amount base units.
func (a *Adapter) Transfer(ctx context.Context, signer rpc.Signer, to addr.Address, amount *big.Int) (txHash string, err error) {
	sendable, err := a.Provider.Simulate(ctx, a.Token, "transfer", map[string]any{
		"to": to.String(), "amount": amount.String(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: simulate transfer: %v", errs.ErrTransferReverted, err)
	}
	hash, err := rpc.SendSigned(ctx, a.Provider, sendable, signer, a.Network, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrTransferReverted, err)
	}
	logger.Infof("token %s: transferred %s to %s (tx %s)", a.Token.Short(), amount.String(), to.Short(), hash)
	return hash, nil
}

// IncreaseAllowance adds delta to the spender's current allowance. It
// never sets an absolute allowance — this adapter calls the additive
// increaseAllowance method, never setAllowance.
func (a *Adapter) IncreaseAllowance(ctx context.Context, signer rpc.Signer, spender addr.Address, delta *big.Int) (txHash string, err error) {
	sendable, err := a.Provider.Simulate(ctx, a.Token, "increaseAllowance", map[string]any{
		"spender": spender.String(), "delta": delta.String(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: simulate increaseAllowance: %v", errs.ErrTokenCallFailed, err)
	}
	hash, err := rpc.SendSigned(ctx, a.Provider, sendable, signer, a.Network, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrTokenCallFailed, err)
	}
	logger.Infof("token %s: increased allowance of %s by %s (tx %s)", a.Token.Short(), spender.Short(), delta.String(), hash)
	return hash, nil
}

// EnsureAllowance queries the spender's current allowance and, if it
// is short of needed, issues exactly the delta required — never more.
func EnsureAllowance(ctx context.Context, a *Adapter, signer rpc.Signer, owner, spender addr.Address, needed *big.Int) error {
	current, err := a.Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	if current.Cmp(needed) >= 0 {
		return nil
	}
	delta := new(big.Int).Sub(needed, current)
	_, err = a.IncreaseAllowance(ctx, signer, spender, delta)
	return err
}
