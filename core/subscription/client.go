// Package subscription implements Component E, a typed wrapper over
// the subscription contract's operations and read calls. It enforces the {error} vs {properties} discrimination every
// adapter method in this core must apply rather than trust truthiness.
package subscription

import (
	"context"
	"fmt"
	"math/big"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/errs"
	"blockhost-treasury/internal/rpc"
)

// MaxDays mirrors the contract's own constant.
const MaxDays = 36500

// Plan is the client-side view of an on-chain Plan record.
type Plan struct {
	ID          uint64
	Name        string
	PricePerDay *big.Int
	Active      bool
}

// Subscription is the client-side view of an on-chain Subscription
// record.
type Subscription struct {
	ID            uint64
	PlanID        uint64
	Subscriber    addr.Address
	ExpiresAt     uint64
	Cancelled     bool
	UserEncrypted string
}

// Client is a typed wrapper over one deployed subscription contract.
type Client struct {
	Provider rpc.Provider
	Contract addr.Address
	Network  string
}

// New builds a Client for the given contract address.
func New(p rpc.Provider, contract addr.Address, network string) *Client {
	return &Client{Provider: p, Contract: contract, Network: network}
}

// u64FromChain range-checks a chain-side u256-as-decimal-string value
// into a u64.
func u64FromChain(s string) (uint64, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("%w: malformed integer %q", errs.ErrIdOverflow, s)
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("%w: %s does not fit in u64", errs.ErrIdOverflow, s)
	}
	return n.Uint64(), nil
}

func bigFromChain(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed integer %q", s)
	}
	return n, nil
}

//--------------------------------------------------------------------
// Admin writes (deployer-only)
//--------------------------------------------------------------------

func (c *Client) simulateAndSend(ctx context.Context, signer rpc.Signer, method string, params any) (string, error) {
	sendable, err := c.Provider.Simulate(ctx, c.Contract, method, params)
	if err != nil {
		return "", err
	}
	return rpc.SendSigned(ctx, c.Provider, sendable, signer, c.Network, nil)
}

func (c *Client) SetPaymentToken(ctx context.Context, signer rpc.Signer, token addr.Address) (string, error) {
	return c.simulateAndSend(ctx, signer, "setPaymentToken", map[string]any{"token": token.String()})
}

func (c *Client) CreatePlan(ctx context.Context, signer rpc.Signer, name string, price *big.Int) (uint64, string, error) {
	sendable, err := c.Provider.Simulate(ctx, c.Contract, "createPlan", map[string]any{
		"name": name, "price": price.String(),
	})
	if err != nil {
		return 0, "", err
	}
	hash, err := rpc.SendSigned(ctx, c.Provider, sendable, signer, c.Network, nil)
	if err != nil {
		return 0, "", err
	}
	var out struct {
		PlanID string `json:"plan_id"`
	}
	if err := jsonDecode(sendable, &out); err != nil {
		return 0, hash, err
	}
	id, err := u64FromChain(out.PlanID)
	if err != nil {
		return 0, hash, err
	}
	return id, hash, nil
}

func (c *Client) UpdatePlan(ctx context.Context, signer rpc.Signer, id uint64, name string, price *big.Int, active bool) (string, error) {
	return c.simulateAndSend(ctx, signer, "updatePlan", map[string]any{
		"id": id, "name": name, "price": price.String(), "active": active,
	})
}

func (c *Client) SetAccepting(ctx context.Context, signer rpc.Signer, accepting bool) (string, error) {
	return c.simulateAndSend(ctx, signer, "setAccepting", map[string]any{"accepting": accepting})
}

func (c *Client) SetGrace(ctx context.Context, signer rpc.Signer, days uint64) (string, error) {
	return c.simulateAndSend(ctx, signer, "setGrace", map[string]any{"days": days})
}

func (c *Client) CancelSubscription(ctx context.Context, signer rpc.Signer, id uint64) (string, error) {
	return c.simulateAndSend(ctx, signer, "cancelSubscription", map[string]any{"id": id})
}

func (c *Client) Withdraw(ctx context.Context, signer rpc.Signer, to addr.Address) (string, error) {
	return c.simulateAndSend(ctx, signer, "withdraw", map[string]any{"to": to.String()})
}

//--------------------------------------------------------------------
// User writes
//--------------------------------------------------------------------

func (c *Client) BuySubscription(ctx context.Context, signer rpc.Signer, planID uint64, days uint64, userEncrypted string) (uint64, string, error) {
	if days == 0 || days > MaxDays {
		return 0, "", errs.ErrDaysOutOfRange
	}
	sendable, err := c.Provider.Simulate(ctx, c.Contract, "buySubscription", map[string]any{
		"plan_id": planID, "days": days, "user_encrypted": userEncrypted,
	})
	if err != nil {
		return 0, "", err
	}
	hash, err := rpc.SendSigned(ctx, c.Provider, sendable, signer, c.Network, nil)
	if err != nil {
		return 0, "", err
	}
	var out struct {
		SubID string `json:"sub_id"`
	}
	if err := jsonDecode(sendable, &out); err != nil {
		return 0, hash, err
	}
	id, err := u64FromChain(out.SubID)
	if err != nil {
		return 0, hash, err
	}
	return id, hash, nil
}

func (c *Client) ExtendSubscription(ctx context.Context, signer rpc.Signer, id uint64, days uint64) (string, error) {
	if days == 0 || days > MaxDays {
		return "", errs.ErrDaysOutOfRange
	}
	return c.simulateAndSend(ctx, signer, "extendSubscription", map[string]any{"id": id, "days": days})
}

//--------------------------------------------------------------------
// Reads
//--------------------------------------------------------------------

func (c *Client) read(ctx context.Context, method string, params any, out any) error {
	resp, err := c.Provider.ReadStorage(ctx, c.Contract, method, params)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrTokenCallFailed, err)
	}
	if resp.IsError() {
		return chainError(resp.Err())
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// chainError maps a chain-side error string onto this package's
// sentinels where the shape is known, otherwise wraps it generically.
func chainError(msg string) error {
	switch msg {
	case "PlanNotFound":
		return errs.ErrPlanNotFound
	case "SubscriptionNotFound":
		return errs.ErrSubscriptionNotFound
	case "AlreadyCancelled":
		return errs.ErrAlreadyCancelled
	case "NotAcceptingSubscriptions":
		return errs.ErrNotAcceptingSubscriptions
	case "PlanInactive":
		return errs.ErrPlanInactive
	case "DaysOutOfRange":
		return errs.ErrDaysOutOfRange
	case "IdOverflow":
		return errs.ErrIdOverflow
	case "ZeroPrice":
		return errs.ErrZeroPrice
	case "NotDeployer":
		return errs.ErrNotDeployer
	case "PullTokensFailed":
		return errs.ErrPullTokensFailed
	default:
		return fmt.Errorf("subscription contract: %s", msg)
	}
}

func (c *Client) IsAccepting(ctx context.Context) (bool, error) {
	var out struct {
		Accepting bool `json:"accepting"`
	}
	if err := c.read(ctx, "isAccepting", nil, &out); err != nil {
		return false, err
	}
	return out.Accepting, nil
}

func (c *Client) GetPaymentToken(ctx context.Context) (addr.Address, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.read(ctx, "getPaymentToken", nil, &out); err != nil {
		return addr.Address{}, err
	}
	return addr.FromHex(out.Token)
}

func (c *Client) GetGrace(ctx context.Context) (uint64, error) {
	var out struct {
		Days string `json:"days"`
	}
	if err := c.read(ctx, "getGrace", nil, &out); err != nil {
		return 0, err
	}
	return u64FromChain(out.Days)
}

func (c *Client) GetPlan(ctx context.Context, id uint64) (Plan, error) {
	var out struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		PricePerDay string `json:"price_per_day"`
		Active      bool   `json:"active"`
	}
	if err := c.read(ctx, "getPlan", map[string]any{"id": id}, &out); err != nil {
		return Plan{}, err
	}
	planID, err := u64FromChain(out.ID)
	if err != nil {
		return Plan{}, err
	}
	price, err := bigFromChain(out.PricePerDay)
	if err != nil {
		return Plan{}, fmt.Errorf("get_plan: %w", err)
	}
	return Plan{ID: planID, Name: out.Name, PricePerDay: price, Active: out.Active}, nil
}

func (c *Client) GetSubscription(ctx context.Context, id uint64) (Subscription, error) {
	var out struct {
		ID            string `json:"id"`
		PlanID        string `json:"plan_id"`
		Subscriber    string `json:"subscriber"`
		ExpiresAt     string `json:"expires_at"`
		Cancelled     bool   `json:"cancelled"`
		UserEncrypted string `json:"user_encrypted"`
	}
	if err := c.read(ctx, "getSubscription", map[string]any{"id": id}, &out); err != nil {
		return Subscription{}, err
	}
	subID, err := u64FromChain(out.ID)
	if err != nil {
		return Subscription{}, err
	}
	planID, err := u64FromChain(out.PlanID)
	if err != nil {
		return Subscription{}, err
	}
	expiresAt, err := u64FromChain(out.ExpiresAt)
	if err != nil {
		return Subscription{}, err
	}
	subscriber, err := addr.FromHex(out.Subscriber)
	if err != nil {
		return Subscription{}, fmt.Errorf("get_subscription: %w", err)
	}
	return Subscription{
		ID: subID, PlanID: planID, Subscriber: subscriber, ExpiresAt: expiresAt,
		Cancelled: out.Cancelled, UserEncrypted: out.UserEncrypted,
	}, nil
}

func (c *Client) IsSubscriptionActive(ctx context.Context, id uint64) (bool, error) {
	var out struct {
		Active bool `json:"active"`
	}
	if err := c.read(ctx, "isSubscriptionActive", map[string]any{"id": id}, &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

func (c *Client) DaysRemaining(ctx context.Context, id uint64) (uint64, error) {
	var out struct {
		Days string `json:"days"`
	}
	if err := c.read(ctx, "daysRemaining", map[string]any{"id": id}, &out); err != nil {
		return 0, err
	}
	return u64FromChain(out.Days)
}

// MaxPageSize is the per-query cap enforced on paged
// subscriber-index reads.
const MaxPageSize = 50

func (c *Client) GetSubscriptionsBySubscriber(ctx context.Context, who addr.Address, offset, limit uint64) ([]uint64, error) {
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := c.read(ctx, "getSubscriptionsBySubscriber", map[string]any{
		"address": who.String(), "offset": offset, "limit": limit,
	}, &out); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(out.IDs))
	for _, s := range out.IDs {
		id, err := u64FromChain(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) GetSubscriptionCountBySubscriber(ctx context.Context, who addr.Address) (uint64, error) {
	var out struct {
		Count string `json:"count"`
	}
	if err := c.read(ctx, "getSubscriptionCountBySubscriber", map[string]any{"address": who.String()}, &out); err != nil {
		return 0, err
	}
	return u64FromChain(out.Count)
}

func (c *Client) GetTotalSubscriptionCount(ctx context.Context) (uint64, error) {
	var out struct {
		Count string `json:"count"`
	}
	if err := c.read(ctx, "getTotalSubscriptionCount", nil, &out); err != nil {
		return 0, err
	}
	return u64FromChain(out.Count)
}

func (c *Client) GetTotalPlanCount(ctx context.Context) (uint64, error) {
	var out struct {
		Count string `json:"count"`
	}
	if err := c.read(ctx, "getTotalPlanCount", nil, &out); err != nil {
		return 0, err
	}
	return u64FromChain(out.Count)
}

func (c *Client) GetUserEncrypted(ctx context.Context, id uint64) (string, error) {
	var out struct {
		UserEncrypted string `json:"user_encrypted"`
	}
	if err := c.read(ctx, "getUserEncrypted", map[string]any{"id": id}, &out); err != nil {
		return "", err
	}
	return out.UserEncrypted, nil
}

func jsonDecode(s *rpc.Sendable, v any) error {
	if len(s.Raw) == 0 {
		return nil
	}
	return (rpc.Response{Properties: s.Raw}).Decode(v)
}
