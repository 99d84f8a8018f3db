// Package errs enumerates the error kinds surfaced by the treasury and
// swap core. Each kind is a sentinel error compared with
// errors.Is; call sites wrap it with fmt.Errorf("...: %w", ...) to
// attach the offending input, matching pkg/utils.Wrap's convention.
package errs

import "errors"

var (
	// Address Codec / Addressbook
	ErrNotAnAddress    = errors.New("not an address")
	ErrUnresolvable    = errors.New("unresolvable identity")
	ErrInvalidRoleName = errors.New("invalid role name")

	// Wallet Resolver
	ErrNoKeyfile      = errors.New("role has no keyfile")
	ErrKeyfileMissing = errors.New("keyfile missing on disk")

	// Token Adapter
	ErrTokenCallFailed   = errors.New("token call failed")
	ErrTransferReverted  = errors.New("transfer reverted")
	ErrNoLiquidity       = errors.New("no liquidity")
	ErrInsufficientFunds = errors.New("insufficient balance")

	// Swap Router
	ErrReserveFailed     = errors.New("reserve failed")
	ErrNextBlockTimeout  = errors.New("timed out waiting for next block")
	ErrSwapExecFailed    = errors.New("swap execution failed")
	ErrAmmUnavailable    = errors.New("amm router/factory not configured")
	ErrNativeToNative    = errors.New("native-to-native swap is rejected")

	// Subscription Contract
	ErrPlanNotFound             = errors.New("plan not found")
	ErrSubscriptionNotFound     = errors.New("subscription not found")
	ErrAlreadyCancelled         = errors.New("subscription already cancelled")
	ErrNotAcceptingSubscriptions = errors.New("contract is not accepting subscriptions")
	ErrPlanInactive             = errors.New("plan is inactive")
	ErrDaysOutOfRange           = errors.New("days out of range")
	ErrIdOverflow               = errors.New("id does not fit in u64")
	ErrZeroPrice                = errors.New("price must be greater than zero")
	ErrPaymentTokenUnset        = errors.New("payment token is unset")
	ErrNotDeployer              = errors.New("caller is not the deployer")
	ErrPullTokensFailed         = errors.New("pull-payment transfer failed")

	// RPC / transport
	ErrRpcUnreachable = errors.New("rpc endpoint unreachable")
	ErrTimeout        = errors.New("operation timed out")
)
