// Package fundmanager implements Component G: the five-step periodic
// treasury pipeline that withdraws accrued subscription revenue,
// refills operational wallets, distributes revenue shares, and sweeps
// residuals to the admin role.
package fundmanager

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addressbook"
	"blockhost-treasury/core/amount"
	"blockhost-treasury/core/subscription"
	"blockhost-treasury/core/swaprouter"
	"blockhost-treasury/core/token"
	"blockhost-treasury/internal/rpc"
	"blockhost-treasury/pkg/config"
)

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

var logger = log.StandardLogger()

// Config is the subset of blockhost.yaml's fund-manager section this
// package consumes, plus the revenue-share document.
type Config struct {
	FundManager  config.FundManager
	RevenueShare config.RevenueShare
}

// HotTopUpGuard is the process-wide singleton that the fund cycle's
// step 2 and the gas check's hot-top-up step both consult, so they
// never run simultaneously.
type HotTopUpGuard struct{ flag int32 }

func (g *HotTopUpGuard) tryAcquire() bool { return atomic.CompareAndSwapInt32(&g.flag, 0, 1) }
func (g *HotTopUpGuard) release()         { atomic.StoreInt32(&g.flag, 0) }

// Manager drives the fund cycle and gas check pipelines for one chain
// network.
type Manager struct {
	Provider     rpc.Provider
	Subscription *subscription.Client
	Router       *swaprouter.Router
	Book         addressbook.Book
	Config       Config
	Network      string
	HotTopUp     *HotTopUpGuard

	cycleInProgress int32
	gasInProgress   int32
}

// New builds a Manager with its own HotTopUpGuard; callers that run a
// Scheduler must share one guard between cycle and gas-check Managers
// instead of calling New twice.
func New(p rpc.Provider, sub *subscription.Client, router *swaprouter.Router, book addressbook.Book, cfg Config, network string) *Manager {
	return &Manager{
		Provider: p, Subscription: sub, Router: router, Book: book,
		Config: cfg, Network: network, HotTopUp: &HotTopUpGuard{},
	}
}

// StepResult captures one pipeline step's outcome for observability.
// A non-nil Err never aborts the remaining steps — failures are isolated
// per step.
type StepResult struct {
	Name string
	Err  error
}

// CycleResult is the full fund-cycle outcome.
type CycleResult struct {
	Skipped bool // true if another cycle was already in progress
	Steps   []StepResult
}

func (m *Manager) role(name string) (addr.Address, bool) {
	e, ok := m.Book[name]
	return e.Address, ok
}

// RunFundCycle executes the five-step pipeline exactly once,
// guaranteeing only one cycle runs at a time per Manager.
func (m *Manager) RunFundCycle(ctx context.Context) CycleResult {
	if !atomic.CompareAndSwapInt32(&m.cycleInProgress, 0, 1) {
		logger.Warnf("fundmanager: fund cycle already in progress, skipping tick")
		return CycleResult{Skipped: true}
	}
	defer atomic.StoreInt32(&m.cycleInProgress, 0)

	var steps []StepResult
	run := func(name string, fn func(context.Context) error) {
		err := fn(ctx)
		if err != nil {
			logger.Errorf("fundmanager: step %s failed: %v", name, err)
		} else {
			logger.Infof("fundmanager: step %s ok", name)
		}
		steps = append(steps, StepResult{Name: name, Err: err})
	}

	run("withdraw", m.stepWithdraw)
	run("top_up_hot_native", func(ctx context.Context) error { return m.topUpHotWalletNative(ctx) })
	run("top_up_server_buffer", m.stepTopUpServerBuffer)
	run("revenue_distribution", m.stepRevenueDistribution)
	run("remainder_to_admin", m.stepRemainderToAdmin)

	return CycleResult{Steps: steps}
}

// RunGasCheck executes the lighter-cadence top-up-hot step plus a
// conditional fungible→native swap.
func (m *Manager) RunGasCheck(ctx context.Context) CycleResult {
	if !atomic.CompareAndSwapInt32(&m.gasInProgress, 0, 1) {
		logger.Warnf("fundmanager: gas check already in progress, skipping tick")
		return CycleResult{Skipped: true}
	}
	defer atomic.StoreInt32(&m.gasInProgress, 0)

	var steps []StepResult
	run := func(name string, fn func(context.Context) error) {
		err := fn(ctx)
		if err != nil {
			logger.Errorf("fundmanager: step %s failed: %v", name, err)
		} else {
			logger.Infof("fundmanager: step %s ok", name)
		}
		steps = append(steps, StepResult{Name: name, Err: err})
	}

	run("top_up_hot_native", func(ctx context.Context) error { return m.topUpHotWalletNative(ctx) })
	run("gas_swap", m.stepGasSwap)
	return CycleResult{Steps: steps}
}

// sendNative performs a simulate-then-send plain value transfer of the
// native coin, the same pattern the token adapter uses for fungible
// transfers (the contract address 0x0 denotes "native coin" to the
// chain's RPC surface). UTXO construction itself is the RPC
// endpoint's concern, not this core's.
func sendNative(ctx context.Context, p rpc.Provider, signer rpc.Signer, to addr.Address, sats uint64, network string) (string, error) {
	sendable, err := p.Simulate(ctx, addr.Zero, "transfer_native", map[string]any{
		"to": to.String(), "amount_sats": sats,
	})
	if err != nil {
		return "", fmt.Errorf("simulate native transfer: %w", err)
	}
	return rpc.SendSigned(ctx, p, sendable, signer, network, nil)
}

//--------------------------------------------------------------------
// Step 1: Withdraw
//--------------------------------------------------------------------

func (m *Manager) stepWithdraw(ctx context.Context) error {
	paymentToken, err := m.Subscription.GetPaymentToken(ctx)
	if err != nil {
		return fmt.Errorf("get payment token: %w", err)
	}
	if paymentToken.IsZero() {
		logger.Infof("fundmanager: payment token unset, skipping withdraw")
		return nil
	}

	serverWallet, err := addressbook.ResolveWallet(m.Book, "server")
	if err != nil {
		return fmt.Errorf("resolve server wallet: %w", err)
	}
	defer serverWallet.Wipe()

	hotAddr, ok := m.role("hot")
	if !ok {
		return fmt.Errorf("addressbook has no hot role")
	}

	// Withdrawal is gated on the contract's own token balance, not the
	// server wallet's.
	min := new(big.Int).SetInt64(int64(m.Config.FundManager.MinWithdrawalSats))
	bal, err := contractPaymentTokenBalance(ctx, m.Provider, paymentToken, m.Subscription.Contract)
	if err != nil {
		return fmt.Errorf("read contract token balance: %w", err)
	}
	if bal.Cmp(min) < 0 {
		logger.Infof("fundmanager: contract token balance %s below minimum %s, skipping withdraw", bal.String(), min.String())
		return nil
	}

	_, err = m.Subscription.Withdraw(ctx, serverWallet, hotAddr)
	return err
}

func contractPaymentTokenBalance(ctx context.Context, p rpc.Provider, paymentToken, contract addr.Address) (*big.Int, error) {
	adapter := token.New(p, paymentToken, "")
	return adapter.BalanceOf(ctx, contract)
}

//--------------------------------------------------------------------
// Step 2: Top-up hot-wallet native (shared with gas check)
//--------------------------------------------------------------------

func (m *Manager) topUpHotWalletNative(ctx context.Context) error {
	if !m.HotTopUp.tryAcquire() {
		logger.Infof("fundmanager: hot-wallet native top-up already running, no-op")
		return nil
	}
	defer m.HotTopUp.release()

	hotAddr, ok := m.role("hot")
	if !ok {
		return fmt.Errorf("addressbook has no hot role")
	}
	target := uint64(m.Config.FundManager.HotWalletGasSats)

	hotBalance, err := m.Provider.GetBalance(ctx, hotAddr)
	if err != nil {
		return fmt.Errorf("read hot native balance: %w", err)
	}
	if hotBalance >= target {
		return nil
	}
	needed := target - hotBalance

	serverWallet, err := addressbook.ResolveWallet(m.Book, "server")
	if err != nil {
		return fmt.Errorf("resolve server wallet: %w", err)
	}
	defer serverWallet.Wipe()

	serverBalance, err := m.Provider.GetBalance(ctx, serverWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read server native balance: %w", err)
	}
	if serverBalance < 2*needed {
		return fmt.Errorf("server native balance %d insufficient to cover 2x needed %d", serverBalance, needed)
	}

	_, err = sendNative(ctx, m.Provider, serverWallet, hotAddr, needed, m.Network)
	return err
}

//--------------------------------------------------------------------
// Step 3: Top-up server payment-token buffer
//--------------------------------------------------------------------

func (m *Manager) stepTopUpServerBuffer(ctx context.Context) error {
	paymentToken, err := m.Subscription.GetPaymentToken(ctx)
	if err != nil {
		return fmt.Errorf("get payment token: %w", err)
	}
	if paymentToken.IsZero() {
		return nil
	}

	serverWallet, err := addressbook.ResolveWallet(m.Book, "server")
	if err != nil {
		return fmt.Errorf("resolve server wallet: %w", err)
	}
	defer serverWallet.Wipe()
	hotWallet, err := addressbook.ResolveWallet(m.Book, "hot")
	if err != nil {
		return fmt.Errorf("resolve hot wallet: %w", err)
	}
	defer hotWallet.Wipe()

	adapter := token.New(m.Provider, paymentToken, m.Network)
	serverBal, err := adapter.BalanceOf(ctx, serverWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read server token balance: %w", err)
	}
	buffer := big.NewInt(int64(m.Config.FundManager.ServerStablecoinBufferSats))
	if serverBal.Cmp(buffer) >= 0 {
		return nil
	}
	needed, err := amount.Sub(buffer, serverBal)
	if err != nil {
		return err
	}

	hotBal, err := adapter.BalanceOf(ctx, hotWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read hot token balance: %w", err)
	}
	if hotBal.Cmp(needed) < 0 {
		return fmt.Errorf("hot token balance %s insufficient for needed %s", hotBal.String(), needed.String())
	}

	_, err = adapter.Transfer(ctx, hotWallet, serverWallet.InternalAddress, needed)
	return err
}

//--------------------------------------------------------------------
// Step 4: Revenue distribution
//--------------------------------------------------------------------

func (m *Manager) stepRevenueDistribution(ctx context.Context) error {
	rs := m.Config.RevenueShare
	if !rs.Enabled || len(rs.Recipients) == 0 {
		logger.Infof("fundmanager: revenue distribution disabled or empty, skipping")
		return nil
	}

	paymentToken, err := m.Subscription.GetPaymentToken(ctx)
	if err != nil {
		return fmt.Errorf("get payment token: %w", err)
	}
	if paymentToken.IsZero() {
		return nil
	}

	hotWallet, err := addressbook.ResolveWallet(m.Book, "hot")
	if err != nil {
		return fmt.Errorf("resolve hot wallet: %w", err)
	}
	defer hotWallet.Wipe()

	adapter := token.New(m.Provider, paymentToken, m.Network)
	balance, err := adapter.BalanceOf(ctx, hotWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read hot token balance: %w", err)
	}

	recipients := make([]amount.Recipient, len(rs.Recipients))
	for i, r := range rs.Recipients {
		recipients[i] = amount.Recipient{Role: r.Role, Bps: r.Bps}
	}
	shares, err := amount.SplitByBps(balance, rs.TotalBps, recipients)
	if err != nil {
		logger.Warnf("fundmanager: revenue distribution disabled for this cycle: %v", err)
		return nil
	}

	for _, s := range shares {
		if s.Amount.Sign() == 0 {
			continue
		}
		recipientAddr, ok := m.role(s.Role)
		if !ok {
			logger.Errorf("fundmanager: revenue recipient role %q not in addressbook, skipping", s.Role)
			continue
		}
		if _, err := adapter.Transfer(ctx, hotWallet, recipientAddr, s.Amount); err != nil {
			logger.Errorf("fundmanager: revenue transfer to %q failed: %v", s.Role, err)
		}
	}
	return nil
}

//--------------------------------------------------------------------
// Step 5: Remainder to admin
//--------------------------------------------------------------------

func (m *Manager) stepRemainderToAdmin(ctx context.Context) error {
	paymentToken, err := m.Subscription.GetPaymentToken(ctx)
	if err != nil {
		return fmt.Errorf("get payment token: %w", err)
	}
	if paymentToken.IsZero() {
		return nil
	}

	hotWallet, err := addressbook.ResolveWallet(m.Book, "hot")
	if err != nil {
		return fmt.Errorf("resolve hot wallet: %w", err)
	}
	defer hotWallet.Wipe()
	adminAddr, ok := m.role("admin")
	if !ok {
		return fmt.Errorf("addressbook has no admin role")
	}

	adapter := token.New(m.Provider, paymentToken, m.Network)
	remaining, err := adapter.BalanceOf(ctx, hotWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read hot token balance: %w", err)
	}
	if remaining.Sign() == 0 {
		return nil
	}
	_, err = adapter.Transfer(ctx, hotWallet, adminAddr, remaining)
	return err
}

//--------------------------------------------------------------------
// Gas check's conditional swap
//--------------------------------------------------------------------

func (m *Manager) stepGasSwap(ctx context.Context) error {
	serverWallet, err := addressbook.ResolveWallet(m.Book, "server")
	if err != nil {
		return fmt.Errorf("resolve server wallet: %w", err)
	}
	defer serverWallet.Wipe()

	serverNative, err := m.Provider.GetBalance(ctx, serverWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read server native balance: %w", err)
	}
	if serverNative >= uint64(m.Config.FundManager.GasLowThresholdSats) {
		return nil
	}

	paymentToken, err := m.Subscription.GetPaymentToken(ctx)
	if err != nil {
		return fmt.Errorf("get payment token: %w", err)
	}
	if paymentToken.IsZero() {
		return nil
	}
	adapter := token.New(m.Provider, paymentToken, m.Network)
	serverTokenBal, err := adapter.BalanceOf(ctx, serverWallet.InternalAddress)
	if err != nil {
		return fmt.Errorf("read server token balance: %w", err)
	}
	if serverTokenBal.Sign() == 0 {
		return nil
	}

	swapAmount := new(big.Int).SetInt64(int64(m.Config.FundManager.GasSwapAmountSats))
	if serverTokenBal.Cmp(swapAmount) < 0 {
		swapAmount = serverTokenBal
	}

	meta, err := adapter.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("read token metadata: %w", err)
	}
	amountStr := amount.Format(swapAmount, meta.Decimals)

	_, err = m.Router.Swap(ctx, amountStr, paymentToken.String(), "native", "server")
	return err
}
