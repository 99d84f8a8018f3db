// Package engine is the Go-side reference implementation of the
// subscription contract's state machine. The real
// chain-side implementation lives in the chain's own smart-contract
// language and is out of this repo; this package exists so the
// typed client (package subscription) and its tests have a concrete,
// correct counterpart to simulate against without a live chain.
package engine

import (
	"fmt"
	"math/big"
	"sync"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/errs"
)

// MaxDays bounds any single purchase/extension.
const MaxDays = 36500

// DayUnit is the chain's native time unit expressed in seconds; one
// "day" of subscription time equals DayUnit units of Clock.Now.
const DayUnit = 86400

// Clock abstracts the chain's notion of "now" so tests can control it
// without sleeping.
type Clock interface{ Now() uint64 }

// Plan mirrors the on-chain Plan record.
type Plan struct {
	ID           uint64
	Name         string
	PricePerDay  *big.Int
	Active       bool
}

// Subscription mirrors the on-chain Subscription record.
type Subscription struct {
	ID            uint64
	PlanID        uint64
	Subscriber    addr.Address
	ExpiresAt     uint64
	Cancelled     bool
	UserEncrypted string
}

// Engine holds the full subscription contract state.
type Engine struct {
	mu sync.Mutex

	deployer     addr.Address
	paymentToken addr.Address
	accepting    bool
	grace        uint64 // days

	nextPlanID uint64
	nextSubID  uint64
	plans      map[uint64]*Plan
	subs       map[uint64]*Subscription
	byAddr     map[addr.Address][]uint64

	// tokenBalances models the single globally configured payment
	// token's holder balances, including the contract's own balance
	// under the zero address key (contracts never hold the unset
	// sentinel as a real identity, so it is safe to reuse as "self").
	tokenBalances map[addr.Address]*big.Int

	clock Clock
}

// New constructs an Engine at its initial state: accepting=true,
// grace=0, next_plan_id=1, next_sub_id=1, payment_token=unset.
func New(deployer addr.Address, clock Clock) *Engine {
	return &Engine{
		deployer:      deployer,
		accepting:     true,
		nextPlanID:    1,
		nextSubID:     1,
		plans:         make(map[uint64]*Plan),
		subs:          make(map[uint64]*Subscription),
		byAddr:        make(map[addr.Address][]uint64),
		tokenBalances: make(map[addr.Address]*big.Int),
		clock:         clock,
	}
}

// Credit gives holder extra payment-token balance, for test setup and
// for recording the proceeds of a real off-chain transfer the caller
// already observed.
func (e *Engine) Credit(holder addr.Address, amount *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance(holder).Add(e.balance(holder), amount)
}

// BalanceOf returns holder's payment-token balance.
func (e *Engine) BalanceOf(holder addr.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.balance(holder))
}

// ContractBalance returns the contract's own payment-token balance.
func (e *Engine) ContractBalance() *big.Int { return e.BalanceOf(addr.Zero) }

func (e *Engine) balance(holder addr.Address) *big.Int {
	b, ok := e.tokenBalances[holder]
	if !ok {
		b = big.NewInt(0)
		e.tokenBalances[holder] = b
	}
	return b
}

func (e *Engine) requireDeployer(caller addr.Address) error {
	if caller != e.deployer {
		return errs.ErrNotDeployer
	}
	return nil
}

// pull moves amount from holder to the contract, modeling pull-payment
// semantics: insufficient balance fails with ErrPullTokensFailed
// (standing in for a transfer whose return value is neither empty nor
// boolean true).
func (e *Engine) pull(holder addr.Address, amount *big.Int) error {
	bal := e.balance(holder)
	if bal.Cmp(amount) < 0 {
		return errs.ErrPullTokensFailed
	}
	bal.Sub(bal, amount)
	e.balance(addr.Zero).Add(e.balance(addr.Zero), amount)
	return nil
}

//--------------------------------------------------------------------
// Admin writes
//--------------------------------------------------------------------

func (e *Engine) SetPaymentToken(caller, token addr.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return err
	}
	e.paymentToken = token
	return nil
}

func (e *Engine) CreatePlan(caller addr.Address, name string, price *big.Int) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return 0, err
	}
	if price.Sign() <= 0 {
		return 0, errs.ErrZeroPrice
	}
	id := e.nextPlanID
	e.nextPlanID++
	e.plans[id] = &Plan{ID: id, Name: name, PricePerDay: new(big.Int).Set(price), Active: true}
	return id, nil
}

func (e *Engine) UpdatePlan(caller addr.Address, id uint64, name string, price *big.Int, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return err
	}
	p, ok := e.plans[id]
	if !ok {
		return errs.ErrPlanNotFound
	}
	if price.Sign() <= 0 {
		return errs.ErrZeroPrice
	}
	p.Name = name
	p.PricePerDay = new(big.Int).Set(price)
	p.Active = active
	return nil
}

func (e *Engine) SetAccepting(caller addr.Address, accepting bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return err
	}
	e.accepting = accepting
	return nil
}

func (e *Engine) SetGrace(caller addr.Address, days uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return err
	}
	e.grace = days
	return nil
}

func (e *Engine) CancelSubscription(caller addr.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return err
	}
	sub, ok := e.subs[id]
	if !ok {
		return errs.ErrSubscriptionNotFound
	}
	if sub.Cancelled {
		return errs.ErrAlreadyCancelled
	}
	sub.Cancelled = true
	return nil
}

func (e *Engine) Withdraw(caller, to addr.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireDeployer(caller); err != nil {
		return err
	}
	if to.IsZero() {
		return fmt.Errorf("withdraw to zero address rejected")
	}
	bal := e.balance(addr.Zero)
	amount := new(big.Int).Set(bal)
	bal.SetInt64(0)
	e.balance(to).Add(e.balance(to), amount)
	return nil
}

//--------------------------------------------------------------------
// User writes
//--------------------------------------------------------------------

func (e *Engine) BuySubscription(caller addr.Address, planID uint64, days uint64, userEncrypted string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.accepting {
		return 0, errs.ErrNotAcceptingSubscriptions
	}
	plan, ok := e.plans[planID]
	if !ok {
		return 0, errs.ErrPlanNotFound
	}
	if !plan.Active {
		return 0, errs.ErrPlanInactive
	}
	if days == 0 || days > MaxDays {
		return 0, errs.ErrDaysOutOfRange
	}
	cost := new(big.Int).Mul(plan.PricePerDay, new(big.Int).SetUint64(days))
	if err := e.pull(caller, cost); err != nil {
		return 0, err
	}

	id := e.nextSubID
	e.nextSubID++
	now := e.clock.Now()
	sub := &Subscription{
		ID:            id,
		PlanID:        planID,
		Subscriber:    caller,
		ExpiresAt:     now + days*DayUnit,
		UserEncrypted: userEncrypted,
	}
	e.subs[id] = sub
	e.byAddr[caller] = append(e.byAddr[caller], id)
	return id, nil
}

func (e *Engine) ExtendSubscription(caller addr.Address, id uint64, days uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[id]
	if !ok {
		return errs.ErrSubscriptionNotFound
	}
	if sub.Cancelled {
		return errs.ErrAlreadyCancelled
	}
	plan, ok := e.plans[sub.PlanID]
	if !ok {
		return errs.ErrPlanNotFound
	}
	if !plan.Active {
		return errs.ErrPlanInactive
	}
	if days == 0 || days > MaxDays {
		return errs.ErrDaysOutOfRange
	}

	cost := new(big.Int).Mul(plan.PricePerDay, new(big.Int).SetUint64(days))
	if err := e.pull(caller, cost); err != nil {
		return err
	}

	now := e.clock.Now()
	baseline := sub.ExpiresAt
	if baseline < now {
		baseline = now // do not back-credit lapsed time
	}
	sub.ExpiresAt = baseline + days*DayUnit
	return nil
}

//--------------------------------------------------------------------
// Reads
//--------------------------------------------------------------------

func (e *Engine) IsAccepting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepting
}

func (e *Engine) GetPaymentToken() addr.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paymentToken
}

func (e *Engine) GetGrace() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grace
}

func (e *Engine) GetPlan(id uint64) (Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[id]
	if !ok {
		return Plan{}, errs.ErrPlanNotFound
	}
	return *p, nil
}

func (e *Engine) GetSubscription(id uint64) (Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[id]
	if !ok {
		return Subscription{}, errs.ErrSubscriptionNotFound
	}
	return *s, nil
}

// IsSubscriptionActive reports active ⇔ (!cancelled ∧ now < expires_at + grace·day_unit).
func (e *Engine) IsSubscriptionActive(id uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[id]
	if !ok {
		return false, errs.ErrSubscriptionNotFound
	}
	if s.Cancelled {
		return false, nil
	}
	now := e.clock.Now()
	return now < s.ExpiresAt+e.grace*DayUnit, nil
}

// DaysRemaining is 0 whenever the subscription is not active, otherwise floor((expires_at-now)/day_unit).
func (e *Engine) DaysRemaining(id uint64) (uint64, error) {
	active, err := e.IsSubscriptionActive(id)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.subs[id]
	now := e.clock.Now()
	if s.ExpiresAt <= now {
		return 0, nil
	}
	return (s.ExpiresAt - now) / DayUnit, nil
}

// MaxPageSize is the per-query cap on paged subscriber-index reads.
const MaxPageSize = 50

func (e *Engine) GetSubscriptionsBySubscriber(who addr.Address, offset, limit uint64) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	ids := e.byAddr[who]
	if offset >= uint64(len(ids)) {
		return nil, nil
	}
	end := offset + limit
	if end > uint64(len(ids)) {
		end = uint64(len(ids))
	}
	out := make([]uint64, end-offset)
	copy(out, ids[offset:end])
	return out, nil
}

func (e *Engine) GetSubscriptionCountBySubscriber(who addr.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.byAddr[who]))
}

func (e *Engine) GetTotalSubscriptionCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSubID - 1
}

func (e *Engine) GetTotalPlanCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextPlanID - 1
}

func (e *Engine) GetUserEncrypted(id uint64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[id]
	if !ok {
		return "", errs.ErrSubscriptionNotFound
	}
	return s.UserEncrypted, nil
}
