package fundmanager

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"testing"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addressbook"
	"blockhost-treasury/core/subscription"
	"blockhost-treasury/core/wallet"
	"blockhost-treasury/internal/rpc"
	"blockhost-treasury/pkg/config"
)

// fakeProvider is a minimal in-memory chain standing in for the real
// JSON-RPC surface, exercising the same Simulate/SendSigned/ReadStorage
// shapes every adapter in this core depends on.
type fakeProvider struct {
	paymentToken  addr.Address
	tokenDecimals int
	tokenSymbol   string

	nativeBalances map[addr.Address]uint64
	tokenBalances  map[addr.Address]*big.Int
	allowances     map[addr.Address]map[addr.Address]*big.Int
	contractToken  *big.Int // subscription contract's own token balance

	txCounter int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		tokenDecimals:  8,
		tokenSymbol:    "STBL",
		nativeBalances: map[addr.Address]uint64{},
		tokenBalances:  map[addr.Address]*big.Int{},
		allowances:     map[addr.Address]map[addr.Address]*big.Int{},
		contractToken:  big.NewInt(0),
	}
}

func (p *fakeProvider) tokenBalance(a addr.Address) *big.Int {
	b, ok := p.tokenBalances[a]
	if !ok {
		b = big.NewInt(0)
		p.tokenBalances[a] = b
	}
	return b
}

type simPayload struct {
	Contract addr.Address
	Method   string
	Params   map[string]any
}

func (p *fakeProvider) Simulate(ctx context.Context, contract addr.Address, method string, params any) (*rpc.Sendable, error) {
	m, _ := params.(map[string]any)
	raw, _ := json.Marshal(simPayload{Contract: contract, Method: method, Params: m})
	return &rpc.Sendable{Raw: raw}, nil
}

func (p *fakeProvider) SendSigned(ctx context.Context, sendable *rpc.Sendable, signer rpc.Signer, opts rpc.SendOpts) (string, error) {
	var payload simPayload
	if err := json.Unmarshal(sendable.Raw, &payload); err != nil {
		return "", err
	}
	from := signer.Address()

	switch payload.Method {
	case "transfer":
		to, _ := addr.FromHex(payload.Params["to"].(string))
		amt, _ := new(big.Int).SetString(payload.Params["amount"].(string), 10)
		p.tokenBalance(from).Sub(p.tokenBalance(from), amt)
		p.tokenBalance(to).Add(p.tokenBalance(to), amt)
	case "increaseAllowance":
		spender, _ := addr.FromHex(payload.Params["spender"].(string))
		delta, _ := new(big.Int).SetString(payload.Params["delta"].(string), 10)
		if p.allowances[from] == nil {
			p.allowances[from] = map[addr.Address]*big.Int{}
		}
		cur, ok := p.allowances[from][spender]
		if !ok {
			cur = big.NewInt(0)
		}
		p.allowances[from][spender] = new(big.Int).Add(cur, delta)
	case "transfer_native":
		to, _ := addr.FromHex(payload.Params["to"].(string))
		sats := uint64(payload.Params["amount_sats"].(float64))
		p.nativeBalances[from] -= sats
		p.nativeBalances[to] += sats
	case "withdraw":
		to, _ := addr.FromHex(payload.Params["to"].(string))
		p.tokenBalance(to).Add(p.tokenBalance(to), p.contractToken)
		p.contractToken = big.NewInt(0)
	}
	p.txCounter++
	return "0xtx", nil
}

func (p *fakeProvider) ReadStorage(ctx context.Context, contract addr.Address, method string, params any) (rpc.Response, error) {
	m, _ := params.(map[string]any)
	switch method {
	case "getPaymentToken":
		raw, _ := json.Marshal(map[string]string{"token": p.paymentToken.String()})
		return rpc.Response{Properties: raw}, nil
	case "balanceOf":
		owner, _ := addr.FromHex(m["owner"].(string))
		var bal *big.Int
		if contract == addr.Zero {
			bal = big.NewInt(0)
		} else if owner == p.subscriptionContractAddr() {
			bal = p.contractToken
		} else {
			bal = p.tokenBalance(owner)
		}
		raw, _ := json.Marshal(map[string]string{"balance": bal.String()})
		return rpc.Response{Properties: raw}, nil
	case "metadata":
		raw, _ := json.Marshal(map[string]any{"decimals": p.tokenDecimals, "symbol": p.tokenSymbol})
		return rpc.Response{Properties: raw}, nil
	case "allowance":
		owner, _ := addr.FromHex(m["owner"].(string))
		spender, _ := addr.FromHex(m["spender"].(string))
		cur := big.NewInt(0)
		if s, ok := p.allowances[owner]; ok {
			if v, ok := s[spender]; ok {
				cur = v
			}
		}
		raw, _ := json.Marshal(map[string]string{"allowance": cur.String()})
		return rpc.Response{Properties: raw}, nil
	}
	return rpc.Response{}, nil
}

// subscriptionContractAddr is fixed across these tests; see
// newFakeManager.
func (p *fakeProvider) subscriptionContractAddr() addr.Address { return addr.Address{31: 9} }

func (p *fakeProvider) GetBalance(ctx context.Context, who addr.Address) (uint64, error) {
	return p.nativeBalances[who], nil
}
func (p *fakeProvider) GetBlockNumber(context.Context) (uint64, error) { return 0, nil }
func (p *fakeProvider) GetUTXOs(context.Context, addr.Address) (rpc.Response, error) {
	return rpc.Response{}, nil
}
func (p *fakeProvider) GetPublicKeyInfo(context.Context, []byte) (addr.Address, error) {
	return addr.Address{}, nil
}
func (p *fakeProvider) GetGasParameters(context.Context) (rpc.Response, error) {
	return rpc.Response{}, nil
}
func (p *fakeProvider) Close() {}

func testWallet(t *testing.T, tag string) (*wallet.Wallet, string) {
	t.Helper()
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	w, err := wallet.FromMnemonic(mnemonic, tag)
	if err != nil {
		t.Fatalf("derive wallet %s: %v", tag, err)
	}
	return w, w.ExternalAddress
}

func newFakeManager(t *testing.T) (*Manager, *fakeProvider, addressbook.Book) {
	t.Helper()
	p := newFakeProvider()
	p.paymentToken = addr.Address{31: 7}

	serverWallet, _ := testWallet(t, "server")
	hotWallet, _ := testWallet(t, "hot")

	book := addressbook.Book{
		"server": {Role: "server", Address: serverWallet.InternalAddress, Keyfile: writeKeyfile(t, mnemonicLine("server"))},
		"hot":    {Role: "hot", Address: hotWallet.InternalAddress, Keyfile: writeKeyfile(t, mnemonicLine("hot"))},
		"admin":  {Role: "admin", Address: addr.Address{31: 42}},
	}

	sub := subscription.New(p, p.subscriptionContractAddr(), "testnet")
	m := New(p, sub, nil, book, Config{FundManager: config.FundManager{
		MinWithdrawalSats:          1000,
		HotWalletGasSats:           100_000,
		ServerStablecoinBufferSats: 5_000_000,
		GasLowThresholdSats:        10_000,
		GasSwapAmountSats:          50_000,
	}}, "testnet")
	return m, p, book
}

func mnemonicLine(tag string) string {
	return "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about\n" + tag
}

func writeKeyfile(t *testing.T, content string) string {
	t.Helper()
	f := t.TempDir() + "/keyfile"
	if err := os.WriteFile(f, []byte(content), 0o600); err != nil {
		t.Fatalf("write keyfile: %v", err)
	}
	return f
}

func TestStepWithdrawSkipsWhenPaymentTokenUnset(t *testing.T) {
	p := newFakeProvider() // payment token left unset (addr.Zero)
	sub := subscription.New(p, p.subscriptionContractAddr(), "testnet")
	mgr := New(p, sub, nil, addressbook.Book{}, Config{}, "testnet")

	if err := mgr.stepWithdraw(context.Background()); err != nil {
		t.Fatalf("want nil error when payment token unset, got %v", err)
	}
}

func TestTopUpHotWalletNativeSendsExactlyNeeded(t *testing.T) {
	m, p, book := newFakeManager(t)
	p.nativeBalances[book["server"].Address] = 1_000_000
	p.nativeBalances[book["hot"].Address] = 20_000

	if err := m.topUpHotWalletNative(context.Background()); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if p.nativeBalances[book["hot"].Address] != uint64(m.Config.FundManager.HotWalletGasSats) {
		t.Fatalf("want hot balance at target %d, got %d", m.Config.FundManager.HotWalletGasSats, p.nativeBalances[book["hot"].Address])
	}
}

func TestTopUpHotWalletNativeRequiresDoubleTheNeededAmount(t *testing.T) {
	m, p, book := newFakeManager(t)
	p.nativeBalances[book["server"].Address] = 100 // far short of 2x needed
	p.nativeBalances[book["hot"].Address] = 0

	if err := m.topUpHotWalletNative(context.Background()); err == nil {
		t.Fatalf("want error when server balance insufficient")
	}
}

func TestHotTopUpGuardPreventsConcurrentRun(t *testing.T) {
	m, _, _ := newFakeManager(t)
	if !m.HotTopUp.tryAcquire() {
		t.Fatalf("expected to acquire guard")
	}
	// simulate a top-up already in flight: the nested call must no-op,
	// not error.
	if err := m.topUpHotWalletNative(context.Background()); err != nil {
		t.Fatalf("want nil (no-op) while guard held, got %v", err)
	}
	m.HotTopUp.release()
}

func TestRevenueDistributionMatchesWorkedExample(t *testing.T) {
	m, p, book := newFakeManager(t)
	p.tokenBalances[book["hot"].Address] = big.NewInt(1_000_003)
	roleA := addr.Address{31: 100}
	roleB := addr.Address{31: 101}
	book["role_a"] = addressbook.Entry{Role: "role_a", Address: roleA}
	book["role_b"] = addressbook.Entry{Role: "role_b", Address: roleB}
	m.Config.RevenueShare = config.RevenueShare{
		Enabled:  true,
		TotalBps: 10_000,
		Recipients: []config.RevenueRecipient{
			{Role: "role_a", Bps: 6_000},
			{Role: "role_b", Bps: 4_000},
		},
	}

	if err := m.stepRevenueDistribution(context.Background()); err != nil {
		t.Fatalf("revenue distribution: %v", err)
	}

	if got := p.tokenBalance(roleA); got.Cmp(big.NewInt(600_001)) != 0 {
		t.Fatalf("want role_a share 600001, got %s", got.String())
	}
	if got := p.tokenBalance(roleB); got.Cmp(big.NewInt(400_002)) != 0 {
		t.Fatalf("want role_b share 400002 (absorbs remainder), got %s", got.String())
	}
}

func TestRevenueDistributionSkipsOnBpsMismatch(t *testing.T) {
	m, p, book := newFakeManager(t)
	p.tokenBalances[book["hot"].Address] = big.NewInt(1_000_000)
	m.Config.RevenueShare = config.RevenueShare{
		Enabled:  true,
		TotalBps: 10_000,
		Recipients: []config.RevenueRecipient{
			{Role: "hot", Bps: 9_999}, // off by one
		},
	}

	if err := m.stepRevenueDistribution(context.Background()); err != nil {
		t.Fatalf("want nil error (cycle skipped, not failed), got %v", err)
	}
	if got := p.tokenBalance(book["hot"].Address); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("hot balance must be untouched on bps mismatch, got %s", got.String())
	}
}

func TestRemainderToAdminSweepsEntireHotBalance(t *testing.T) {
	m, p, book := newFakeManager(t)
	p.tokenBalances[book["hot"].Address] = big.NewInt(555)

	if err := m.stepRemainderToAdmin(context.Background()); err != nil {
		t.Fatalf("remainder to admin: %v", err)
	}
	if got := p.tokenBalance(book["hot"].Address); got.Sign() != 0 {
		t.Fatalf("want hot balance drained, got %s", got.String())
	}
	if got := p.tokenBalance(book["admin"].Address); got.Cmp(big.NewInt(555)) != 0 {
		t.Fatalf("want admin credited 555, got %s", got.String())
	}
}

func TestStepWithdrawSendsWhenAboveMinimum(t *testing.T) {
	m, p, book := newFakeManager(t)
	p.contractToken = big.NewInt(60_000)

	if err := m.stepWithdraw(context.Background()); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if p.contractToken.Sign() != 0 {
		t.Fatalf("contract balance must be drained after withdraw, got %s", p.contractToken.String())
	}
	if got := p.tokenBalance(book["hot"].Address); got.Cmp(big.NewInt(60_000)) != 0 {
		t.Fatalf("want hot wallet credited 60000, got %s", got.String())
	}
}

func TestStepWithdrawSkipsBelowMinimum(t *testing.T) {
	m, p, _ := newFakeManager(t)
	p.contractToken = big.NewInt(5) // below MinWithdrawalSats=1000

	if err := m.stepWithdraw(context.Background()); err != nil {
		t.Fatalf("want nil error below minimum, got %v", err)
	}
	if p.contractToken.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("contract balance must be untouched below minimum, got %s", p.contractToken.String())
	}
}

func TestRunFundCycleSingletonGuard(t *testing.T) {
	m, _, _ := newFakeManager(t)
	m.cycleInProgress = 1 // simulate a cycle already running

	result := m.RunFundCycle(context.Background())
	if !result.Skipped {
		t.Fatalf("want cycle skipped while one is already in progress")
	}
}
