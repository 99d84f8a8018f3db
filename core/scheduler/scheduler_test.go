package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addressbook"
	"blockhost-treasury/core/fundmanager"
	"blockhost-treasury/core/subscription"
	"blockhost-treasury/internal/fundstate"
	"blockhost-treasury/internal/rpc"
	"blockhost-treasury/pkg/config"
)

// noopProvider implements rpc.Provider doing nothing; the payment
// token stays unset so every fund-cycle/gas-check step is a clean
// no-op, letting these tests exercise only the tick-gating and
// shutdown logic.
type noopProvider struct {
	closed int32
}

func (p *noopProvider) Simulate(ctx context.Context, contract addr.Address, method string, params any) (*rpc.Sendable, error) {
	return &rpc.Sendable{}, nil
}
func (p *noopProvider) SendSigned(ctx context.Context, s *rpc.Sendable, signer rpc.Signer, opts rpc.SendOpts) (string, error) {
	return "0x0", nil
}
func (p *noopProvider) ReadStorage(ctx context.Context, contract addr.Address, method string, params any) (rpc.Response, error) {
	return rpc.Response{Properties: []byte(`{"token":"` + addr.Zero.String() + `"}`)}, nil
}
func (p *noopProvider) GetBalance(ctx context.Context, who addr.Address) (uint64, error) { return 0, nil }
func (p *noopProvider) GetBlockNumber(ctx context.Context) (uint64, error)               { return 0, nil }
func (p *noopProvider) GetUTXOs(ctx context.Context, who addr.Address) (rpc.Response, error) {
	return rpc.Response{}, nil
}
func (p *noopProvider) GetPublicKeyInfo(ctx context.Context, program []byte) (addr.Address, error) {
	return addr.Zero, nil
}
func (p *noopProvider) GetGasParameters(ctx context.Context) (rpc.Response, error) {
	return rpc.Response{}, nil
}
func (p *noopProvider) Close() { atomic.StoreInt32(&p.closed, 1) }

func newTestScheduler(t *testing.T) (*Scheduler, *noopProvider) {
	t.Helper()
	p := &noopProvider{}
	sub := subscription.New(p, addr.Address{31: 7}, "testnet")
	mgr := fundmanager.New(p, sub, nil, addressbook.Book{}, fundmanager.Config{
		FundManager:  config.FundManager{MinWithdrawalSats: 1000},
		RevenueShare: config.RevenueShare{},
	}, "testnet")

	s := New(mgr, p, t.TempDir()+"/fund-state.json", time.Hour, 30*time.Minute)
	s.Clock = clock.NewMock()
	return s, p
}

func TestEvaluateTickFiresFundCycleOnceIntervalElapsed(t *testing.T) {
	s, _ := newTestScheduler(t)
	mc := s.Clock.(*clock.Mock)

	// The mock clock starts at the Unix epoch and the watermark starts
	// at zero too, so "now" must be advanced past the interval before
	// the very first tick counts as due.
	mc.Add(2 * s.FundCycleInterval)
	s.evaluateTick(context.Background(), mc.Now())
	waitForSave(t, s)

	s.mu.Lock()
	last := s.state.LastFundCycleMs
	s.mu.Unlock()
	if last == 0 {
		t.Fatalf("want fund cycle watermark advanced on first tick once the clock is past the interval")
	}
}

func TestEvaluateTickSkipsWhenNotYetDue(t *testing.T) {
	s, _ := newTestScheduler(t)
	mc := s.Clock.(*clock.Mock)

	mc.Add(2 * s.FundCycleInterval)
	s.evaluateTick(context.Background(), mc.Now())
	waitForSave(t, s)
	s.mu.Lock()
	first := s.state.LastFundCycleMs
	s.mu.Unlock()

	mc.Add(time.Minute) // well under the 1-hour fund cycle interval
	s.evaluateTick(context.Background(), mc.Now())
	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	second := s.state.LastFundCycleMs
	s.mu.Unlock()
	if second != first {
		t.Fatalf("want watermark unchanged before interval elapses, got %d -> %d", first, second)
	}
}

func TestRecordCompletionPersistsToDisk(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.recordCompletion(func(st *fundstate.State) { st.LastGasCheckMs = 42 })

	loaded, err := fundstate.Load(s.FundStatePath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LastGasCheckMs != 42 {
		t.Fatalf("want persisted watermark 42, got %d", loaded.LastGasCheckMs)
	}
}

func TestRunShutsDownProviderOnContextCancellation(t *testing.T) {
	s, p := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
	if atomic.LoadInt32(&p.closed) != 1 {
		t.Fatalf("want provider closed on shutdown")
	}
}

func waitForSave(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		done := s.state.LastFundCycleMs != 0
		s.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for fund cycle step to complete")
}
