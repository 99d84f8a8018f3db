// Package swaprouter implements Component F, the Swap Router: it
// chooses among Native-Buy, Native-Sell, and AMM routes for a token
// pair and drives the chosen route to completion.
package swaprouter

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addressbook"
	"blockhost-treasury/core/addresscodec"
	"blockhost-treasury/core/amount"
	"blockhost-treasury/core/errs"
	"blockhost-treasury/core/subscription"
	"blockhost-treasury/core/token"
	"blockhost-treasury/core/wallet"
	"blockhost-treasury/internal/rpc"
)

// SlippageBps is the constant tolerance applied to every
// route: minimum output = expected * (10_000 - SlippageBps) / 10_000.
const SlippageBps = 100

const slippageDenom = 10_000

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

var logger = log.StandardLogger()

// AMMAddresses is the optional router/factory pair configuration.
// Either field unset means the AMM route is unavailable.
type AMMAddresses struct {
	Router  addr.Address
	Factory addr.Address
}

func (a AMMAddresses) configured() bool { return !a.Router.IsZero() && !a.Factory.IsZero() }

// Router drives swap routes for one chain network.
type Router struct {
	Provider     rpc.Provider
	NativeSwap   addr.Address
	AMM          AMMAddresses
	Subscription *subscription.Client
	Book         addressbook.Book
	Resolver     addresscodec.Resolver
	Network      string
	Clock        clock.Clock
}

// New builds a Router with a real wall clock.
func New(p rpc.Provider, nativeSwap addr.Address, amm AMMAddresses, sub *subscription.Client, book addressbook.Book, resolver addresscodec.Resolver, network string) *Router {
	return &Router{
		Provider: p, NativeSwap: nativeSwap, AMM: amm, Subscription: sub,
		Book: book, Resolver: resolver, Network: network, Clock: clock.New(),
	}
}

// minOut applies the fixed slippage tolerance exactly
// (95 * 9900 / 10000 = 94, integer division).
func minOut(expected *big.Int) *big.Int {
	n := new(big.Int).Mul(expected, big.NewInt(slippageDenom-SlippageBps))
	return n.Quo(n, big.NewInt(slippageDenom))
}

// tokenRef is a resolved swap endpoint: either the native coin or a
// fungible-token contract address.
type tokenRef struct {
	native bool
	addr   addr.Address
}

func (r *Router) resolveToken(ctx context.Context, ident string) (tokenRef, error) {
	switch ident {
	case "btc", "native":
		return tokenRef{native: true}, nil
	case "stable":
		tok, err := r.Subscription.GetPaymentToken(ctx)
		if err != nil {
			return tokenRef{}, fmt.Errorf("resolve stable token: %w", err)
		}
		if tok.IsZero() {
			return tokenRef{}, fmt.Errorf("%w: payment token is unset", errs.ErrUnresolvable)
		}
		return tokenRef{addr: tok}, nil
	default:
		a, err := addressbook.ResolveAddress(ctx, r.Resolver, r.Book, ident)
		if err != nil {
			return tokenRef{}, err
		}
		return tokenRef{addr: a}, nil
	}
}

// Route reports which path a (fromToken, toToken) pair takes.
type Route int

const (
	RouteNativeBuy Route = iota
	RouteNativeSell
	RouteAMM
)

func selectRoute(from, to tokenRef) (Route, error) {
	switch {
	case from.native && to.native:
		return 0, errs.ErrNativeToNative
	case from.native:
		return RouteNativeBuy, nil
	case to.native:
		return RouteNativeSell, nil
	default:
		return RouteAMM, nil
	}
}

// Swap resolves walletRole, classifies the (fromToken, toToken) pair,
// and drives the selected route to completion.
func (r *Router) Swap(ctx context.Context, amountStr, fromToken, toToken, walletRole string) (txHash string, err error) {
	w, err := addressbook.ResolveWallet(r.Book, walletRole)
	if err != nil {
		return "", err
	}
	defer w.Wipe()

	from, err := r.resolveToken(ctx, fromToken)
	if err != nil {
		return "", err
	}
	to, err := r.resolveToken(ctx, toToken)
	if err != nil {
		return "", err
	}

	route, err := selectRoute(from, to)
	if err != nil {
		return "", err
	}

	switch route {
	case RouteNativeBuy:
		return r.nativeBuy(ctx, w, amountStr, to.addr)
	case RouteNativeSell:
		return r.nativeSell(ctx, w, amountStr, from.addr)
	default:
		return r.ammSwap(ctx, w, amountStr, from.addr, to.addr)
	}
}

//--------------------------------------------------------------------
// Native-Buy: native -> fungible, two phases
//--------------------------------------------------------------------

const (
	nativeBuyPollInterval = 3 * time.Second
	nativeBuyTimeout      = 10 * time.Minute
)

func (r *Router) nativeBuy(ctx context.Context, w rpc.Signer, satsStr string, tokenOut addr.Address) (string, error) {
	satsBig, err := amount.Parse(satsStr, amount.NativeDecimals)
	if err != nil {
		return "", fmt.Errorf("parse native amount: %w", err)
	}
	if !satsBig.IsUint64() {
		return "", fmt.Errorf("native amount out of range: %s", satsStr)
	}
	sats := satsBig.Uint64()

	quoteResp, err := r.Provider.ReadStorage(ctx, r.NativeSwap, "quote", map[string]any{
		"token": tokenOut.String(), "sats_in": sats,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrReserveFailed, err)
	}
	if quoteResp.IsError() {
		return "", fmt.Errorf("%w: %s", errs.ErrReserveFailed, quoteResp.Err())
	}
	var quote struct {
		TokensOut string `json:"tokens_out"`
	}
	if err := quoteResp.Decode(&quote); err != nil {
		return "", fmt.Errorf("%w: decode quote: %v", errs.ErrReserveFailed, err)
	}
	expected, ok := new(big.Int).SetString(quote.TokensOut, 10)
	if !ok {
		return "", fmt.Errorf("%w: malformed quote %q", errs.ErrReserveFailed, quote.TokensOut)
	}
	if expected.Sign() == 0 {
		return "", errs.ErrNoLiquidity
	}
	minTokensOut := minOut(expected)

	sendable, err := r.Provider.Simulate(ctx, r.NativeSwap, "reserve", map[string]any{
		"token": tokenOut.String(), "sats_in": sats, "min_tokens_out": minTokensOut.String(), "forward": 1,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrReserveFailed, err)
	}

	preBlock, err := r.Provider.GetBlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read block height: %v", errs.ErrReserveFailed, err)
	}

	maxSat := sats + rpc.DefaultMaxSatToSpend
	if _, err := rpc.SendSigned(ctx, r.Provider, sendable, w, r.Network, &maxSat); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrReserveFailed, err)
	}
	logger.Infof("swaprouter: native-buy reserved %d sats for token %s at pre_block=%d", sats, tokenOut.Short(), preBlock)

	if err := r.waitForNextBlock(ctx, preBlock); err != nil {
		return "", err
	}

	swapSendable, err := r.Provider.Simulate(ctx, r.NativeSwap, "swap", map[string]any{"token": tokenOut.String()})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	hash, err := rpc.SendSigned(ctx, r.Provider, swapSendable, w, r.Network, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	logger.Infof("swaprouter: native-buy executed, tx %s", hash)
	return hash, nil
}

// waitForNextBlock polls the chain tip every nativeBuyPollInterval
// until it strictly exceeds preBlock, up to nativeBuyTimeout.
func (r *Router) waitForNextBlock(ctx context.Context, preBlock uint64) error {
	deadline := r.Clock.Now().Add(nativeBuyTimeout)
	ticker := r.Clock.Ticker(nativeBuyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if now.After(deadline) {
				return errs.ErrNextBlockTimeout
			}
			height, err := r.Provider.GetBlockNumber(ctx)
			if err != nil {
				continue
			}
			if height > preBlock {
				return nil
			}
		}
	}
}

//--------------------------------------------------------------------
// Native-Sell: fungible -> native, list-and-poll
//--------------------------------------------------------------------

const (
	nativeSellPollInterval = 10 * time.Second
	nativeSellTimeout      = 30 * time.Minute
)

func (r *Router) nativeSell(ctx context.Context, w *wallet.Wallet, amountStr string, tokenIn addr.Address) (string, error) {
	adapter := token.New(r.Provider, tokenIn, r.Network)
	meta, err := adapter.Metadata(ctx)
	if err != nil {
		return "", err
	}
	amt, err := amount.Parse(amountStr, meta.Decimals)
	if err != nil {
		return "", fmt.Errorf("parse token amount: %w", err)
	}
	balance, err := adapter.BalanceOf(ctx, w.Address())
	if err != nil {
		return "", err
	}
	if amt.Cmp(balance) > 0 {
		return "", errs.ErrInsufficientFunds
	}

	if err := token.EnsureAllowance(ctx, adapter, w, w.Address(), r.NativeSwap, amt); err != nil {
		return "", err
	}

	receiverScript := w.ExternalAddress
	sendable, err := r.Provider.Simulate(ctx, r.NativeSwap, "list_liquidity", map[string]any{
		"token": tokenIn.String(), "receiver_script": receiverScript, "receiver_str": receiverScript,
		"amount": amt.String(), "priority": false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	hash, err := rpc.SendSigned(ctx, r.Provider, sendable, w, r.Network, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	logger.Infof("swaprouter: listed %s of token %s for sale, tx %s", amt.String(), tokenIn.Short(), hash)

	r.pollListingDrained(ctx, tokenIn)
	return hash, nil
}

// pollListingDrained polls the listing's remaining liquidity until it
// reaches zero or nativeSellTimeout elapses. The timeout is
// informational only — the listing remains live on-chain either way.
func (r *Router) pollListingDrained(ctx context.Context, tokenIn addr.Address) {
	deadline := r.Clock.Now().Add(nativeSellTimeout)
	ticker := r.Clock.Ticker(nativeSellPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				logger.Infof("swaprouter: native-sell listing for %s still open after timeout", tokenIn.Short())
				return
			}
			resp, err := r.Provider.ReadStorage(ctx, r.NativeSwap, "get_provider_details", map[string]any{"token": tokenIn.String()})
			if err != nil || resp.IsError() {
				continue
			}
			var details struct {
				Liquidity string `json:"liquidity"`
			}
			if err := resp.Decode(&details); err != nil {
				continue
			}
			if n, ok := new(big.Int).SetString(details.Liquidity, 10); ok && n.Sign() == 0 {
				logger.Infof("swaprouter: native-sell listing for %s fully consumed", tokenIn.Short())
				return
			}
		}
	}
}

//--------------------------------------------------------------------
// AMM: fungible -> fungible, single call
//--------------------------------------------------------------------

const ammDeadlineBlocks = 20

func (r *Router) ammSwap(ctx context.Context, w rpc.Signer, amountStr string, fromToken, toToken addr.Address) (string, error) {
	if !r.AMM.configured() {
		return "", errs.ErrAmmUnavailable
	}
	adapter := token.New(r.Provider, fromToken, r.Network)
	meta, err := adapter.Metadata(ctx)
	if err != nil {
		return "", err
	}
	amountIn, err := amount.Parse(amountStr, meta.Decimals)
	if err != nil {
		return "", fmt.Errorf("parse token amount: %w", err)
	}

	quoteResp, err := r.Provider.ReadStorage(ctx, r.AMM.Router, "getAmountsOut", map[string]any{
		"amount_in": amountIn.String(), "path": []string{fromToken.String(), toToken.String()},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	if quoteResp.IsError() {
		return "", fmt.Errorf("%w: %s", errs.ErrSwapExecFailed, quoteResp.Err())
	}
	var amounts struct {
		AmountsOut []string `json:"amounts_out"`
	}
	if err := quoteResp.Decode(&amounts); err != nil || len(amounts.AmountsOut) == 0 {
		return "", fmt.Errorf("%w: malformed amounts_out", errs.ErrSwapExecFailed)
	}
	expected, ok := new(big.Int).SetString(amounts.AmountsOut[len(amounts.AmountsOut)-1], 10)
	if !ok {
		return "", fmt.Errorf("%w: malformed amounts_out entry", errs.ErrSwapExecFailed)
	}
	if expected.Sign() == 0 {
		return "", errs.ErrNoLiquidity
	}
	minTokensOut := minOut(expected)

	if err := token.EnsureAllowance(ctx, adapter, w, w.Address(), r.AMM.Router, amountIn); err != nil {
		return "", err
	}

	currentBlock, err := r.Provider.GetBlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: read block height: %v", errs.ErrSwapExecFailed, err)
	}
	deadline := currentBlock + ammDeadlineBlocks

	sendable, err := r.Provider.Simulate(ctx, r.AMM.Router, "swap_exact_tokens_for_tokens_supporting_fee_on_transfer_tokens", map[string]any{
		"amount_in": amountIn.String(), "min_out": minTokensOut.String(),
		"path": []string{fromToken.String(), toToken.String()}, "to": w.Address().String(), "deadline": deadline,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	hash, err := rpc.SendSigned(ctx, r.Provider, sendable, w, r.Network, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrSwapExecFailed, err)
	}
	logger.Infof("swaprouter: amm swap %s -> %s, tx %s", fromToken.Short(), toToken.Short(), hash)
	return hash, nil
}
