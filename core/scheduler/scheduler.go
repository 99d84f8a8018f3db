// Package scheduler implements Component H: a single-threaded
// cooperative tick loop that fires the fund cycle and gas check at
// their configured intervals and observes OS shutdown signals.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/fundmanager"
	"blockhost-treasury/internal/fundstate"
	"blockhost-treasury/internal/rpc"
)

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

var logger = log.StandardLogger()

// TickInterval is how often the loop wakes to re-evaluate due jobs.
// It is independent of the fund-cycle/gas-check intervals themselves.
const TickInterval = 30 * time.Second

func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// Scheduler drives Manager.RunFundCycle and Manager.RunGasCheck off a
// single tick loop, persisting watermarks after each job and shutting
// down cleanly on the first termination signal.
type Scheduler struct {
	Manager           *fundmanager.Manager
	Provider          rpc.Provider
	FundStatePath     string
	FundCycleInterval time.Duration
	GasCheckInterval  time.Duration
	Clock             clock.Clock

	mu           sync.Mutex
	state        fundstate.State
	shuttingDown int32
}

// New builds a Scheduler with a real wall clock.
func New(m *fundmanager.Manager, p rpc.Provider, fundStatePath string, fundCycleInterval, gasCheckInterval time.Duration) *Scheduler {
	return &Scheduler{
		Manager: m, Provider: p, FundStatePath: fundStatePath,
		FundCycleInterval: fundCycleInterval, GasCheckInterval: gasCheckInterval,
		Clock: clock.New(),
	}
}

// Run blocks, ticking until ctx is cancelled or an OS termination
// signal arrives. A second signal during shutdown is ignored.
func (s *Scheduler) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, shutdownSignals()...)
	defer signal.Stop(sigCh)

	loaded, err := fundstate.Load(s.FundStatePath)
	if err != nil {
		logger.Errorf("scheduler: load fund state: %v", err)
	}
	s.mu.Lock()
	s.state = loaded
	s.mu.Unlock()

	ticker := s.Clock.Ticker(TickInterval)
	defer ticker.Stop()

	logger.Infof("scheduler: starting, fund_cycle_interval=%s gas_check_interval=%s", s.FundCycleInterval, s.GasCheckInterval)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case sig := <-sigCh:
			if !atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
				logger.Warnf("scheduler: second signal %v ignored, already shutting down", sig)
				continue
			}
			logger.Infof("scheduler: received %v, shutting down", sig)
			s.shutdown()
			return
		case now := <-ticker.C:
			s.evaluateTick(ctx, now)
		}
	}
}

func (s *Scheduler) evaluateTick(ctx context.Context, now time.Time) {
	nowMs := uint64(now.UnixMilli())

	s.mu.Lock()
	dueFund := nowMs-s.state.LastFundCycleMs >= uint64(s.FundCycleInterval.Milliseconds())
	dueGas := nowMs-s.state.LastGasCheckMs >= uint64(s.GasCheckInterval.Milliseconds())
	s.mu.Unlock()

	if dueFund {
		go func() {
			s.Manager.RunFundCycle(ctx)
			s.recordCompletion(func(st *fundstate.State) { st.LastFundCycleMs = uint64(s.Clock.Now().UnixMilli()) })
		}()
	}
	if dueGas {
		go func() {
			s.Manager.RunGasCheck(ctx)
			s.recordCompletion(func(st *fundstate.State) { st.LastGasCheckMs = uint64(s.Clock.Now().UnixMilli()) })
		}()
	}
}

// recordCompletion updates the in-memory watermark and persists it,
// regardless of whether the job that just ran succeeded or failed:
// each job's watermark advances on completion either way, so a
// failing job is retried only after the full interval, not spun on
// every tick.
func (s *Scheduler) recordCompletion(mutate func(*fundstate.State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state
	s.mu.Unlock()

	if err := fundstate.Save(s.FundStatePath, snapshot); err != nil {
		logger.Errorf("scheduler: save fund state: %v", err)
	}
}

func (s *Scheduler) shutdown() {
	logger.Infof("scheduler: closing rpc provider")
	s.Provider.Close()
}
