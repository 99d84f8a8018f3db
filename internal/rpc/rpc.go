// Package rpc is the chain JSON-RPC transport. Every typed call
// returns a Response shaped either {"properties": ...} or
// {"error": "..."}; callers must discriminate explicitly rather than
// rely on truthiness.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/addr"
)

// Response is the tagged variant every RPC method returns.
type Response struct {
	Properties json.RawMessage `json:"properties,omitempty"`
	ErrorMsg   *string         `json:"error,omitempty"`
}

// IsError reports whether the chain rejected the call.
func (r Response) IsError() bool { return r.ErrorMsg != nil }

// Err renders the chain-side error message, or "" if none.
func (r Response) Err() string {
	if r.ErrorMsg == nil {
		return ""
	}
	return *r.ErrorMsg
}

// Decode unmarshals Properties into v. It is an error to call Decode
// on an error response — check IsError first.
func (r Response) Decode(v any) error {
	if r.IsError() {
		return fmt.Errorf("decode called on error response: %s", r.Err())
	}
	if len(r.Properties) == 0 {
		return nil
	}
	return json.Unmarshal(r.Properties, v)
}

// Sendable is the opaque, already-simulated payload a Provider is
// asked to sign and submit. Its shape is provider-specific; callers
// only ever pass it back to SendSigned.
type Sendable struct {
	Raw json.RawMessage
}

// Signer is the minimal surface the provider needs from a wallet to
// sign a Sendable — both the classical and post-quantum keys, since
// the chain requires both signatures on every submission.
type Signer interface {
	ClassicalSign(digest []byte) ([]byte, error)
	PostQuantumSign(digest []byte) ([]byte, error)
	Address() addr.Address
}

// SendOpts centralizes the signing parameters every submission
// needs to carry.
type SendOpts struct {
	RefundTo      addr.Address
	MaxSatToSpend uint64
	Network       string
}

// DefaultMaxSatToSpend is the ceiling used unless a caller overrides it.
const DefaultMaxSatToSpend = 100_000

// Provider is the chain RPC surface the rest of the core depends on.
// Production code talks to a real node through HTTPProvider; tests
// inject a fake implementing the same interface.
type Provider interface {
	// Simulate performs the off-chain simulation for a contract call,
	// yielding a Sendable on success or the chain-side error message.
	Simulate(ctx context.Context, contract addr.Address, method string, params any) (*Sendable, error)
	// SendSigned signs and submits a previously simulated call.
	SendSigned(ctx context.Context, sendable *Sendable, signer Signer, opts SendOpts) (txHash string, err error)
	// ReadStorage performs a non-mutating typed read call.
	ReadStorage(ctx context.Context, contract addr.Address, method string, params any) (Response, error)
	// GetBalance returns the native-coin balance, in sats, of who.
	GetBalance(ctx context.Context, who addr.Address) (uint64, error)
	// GetBlockNumber returns the current chain tip height.
	GetBlockNumber(ctx context.Context) (uint64, error)
	// GetUTXOs returns the raw UTXO set backing who, opaque to callers
	// that only need it to hand to the native-coin transfer path
	// (out of scope; only the shape round-trips here).
	GetUTXOs(ctx context.Context, who addr.Address) (Response, error)
	// GetPublicKeyInfo resolves a post-quantum witness program against
	// the chain's public-key index.
	GetPublicKeyInfo(ctx context.Context, program []byte) (addr.Address, error)
	// GetGasParameters returns the chain's recommended fee rate.
	GetGasParameters(ctx context.Context) (Response, error)
	// Close releases the underlying connection. Called exactly once,
	// at process shutdown.
	Close()
}

// HTTPProvider is the production Provider, backed by go-ethereum's
// generic JSON-RPC client (this pack's existing dependency on
// go-ethereum, see SPEC_FULL.md domain stack table) rather than a
// hand-rolled HTTP/JSON layer.
type HTTPProvider struct {
	client *gethrpc.Client
	logger *log.Logger
}

// Dial connects to the chain's JSON-RPC endpoint.
func Dial(ctx context.Context, url string, logger *log.Logger) (*HTTPProvider, error) {
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc %s: %w", url, err)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &HTTPProvider{client: c, logger: logger}, nil
}

func (p *HTTPProvider) call(ctx context.Context, method string, params any) (Response, error) {
	reqID := uuid.New()
	var resp Response
	if err := p.client.CallContext(ctx, &resp, method, params); err != nil {
		p.logger.Errorf("rpc[%s] %s failed: %v", reqID, method, err)
		return Response{}, fmt.Errorf("rpc call %s: %w", method, err)
	}
	p.logger.Debugf("rpc[%s] %s ok", reqID, method)
	return resp, nil
}

func (p *HTTPProvider) Simulate(ctx context.Context, contract addr.Address, method string, params any) (*Sendable, error) {
	resp, err := p.call(ctx, "opnet_simulate", map[string]any{
		"contract": contract.String(),
		"method":   method,
		"params":   params,
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("simulate %s.%s: %s", contract.Short(), method, resp.Err())
	}
	return &Sendable{Raw: resp.Properties}, nil
}

func (p *HTTPProvider) SendSigned(ctx context.Context, sendable *Sendable, signer Signer, opts SendOpts) (string, error) {
	if opts.MaxSatToSpend == 0 {
		opts.MaxSatToSpend = DefaultMaxSatToSpend
	}
	digest := sendable.Raw
	classicalSig, err := signer.ClassicalSign(digest)
	if err != nil {
		return "", fmt.Errorf("classical sign: %w", err)
	}
	pqSig, err := signer.PostQuantumSign(digest)
	if err != nil {
		return "", fmt.Errorf("post-quantum sign: %w", err)
	}
	resp, err := p.call(ctx, "opnet_sendRawTransaction", map[string]any{
		"sendable":         sendable.Raw,
		"signer":           signer.Address().String(),
		"signature":        classicalSig,
		"mldsa_signature":  pqSig,
		"refund_to":        opts.RefundTo.String(),
		"max_sat_to_spend": opts.MaxSatToSpend,
		"network":          opts.Network,
	})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("send signed transaction: %s", resp.Err())
	}
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return out.TxHash, nil
}

func (p *HTTPProvider) ReadStorage(ctx context.Context, contract addr.Address, method string, params any) (Response, error) {
	return p.call(ctx, "opnet_readStorage", map[string]any{
		"contract": contract.String(),
		"method":   method,
		"params":   params,
	})
}

func (p *HTTPProvider) GetBalance(ctx context.Context, who addr.Address) (uint64, error) {
	resp, err := p.call(ctx, "opnet_getBalance", map[string]any{"address": who.String()})
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("get balance: %s", resp.Err())
	}
	var out struct {
		Sats uint64 `json:"sats"`
	}
	if err := resp.Decode(&out); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return out.Sats, nil
}

func (p *HTTPProvider) GetBlockNumber(ctx context.Context) (uint64, error) {
	resp, err := p.call(ctx, "opnet_getBlockNumber", nil)
	if err != nil {
		return 0, err
	}
	if resp.IsError() {
		return 0, fmt.Errorf("get block number: %s", resp.Err())
	}
	var out struct {
		Height uint64 `json:"height"`
	}
	if err := resp.Decode(&out); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return out.Height, nil
}

func (p *HTTPProvider) GetUTXOs(ctx context.Context, who addr.Address) (Response, error) {
	return p.call(ctx, "opnet_getUTXOs", map[string]any{"address": who.String()})
}

func (p *HTTPProvider) GetPublicKeyInfo(ctx context.Context, program []byte) (addr.Address, error) {
	resp, err := p.call(ctx, "opnet_getPublicKeyInfo", map[string]any{"program": program})
	if err != nil {
		return addr.Address{}, err
	}
	if resp.IsError() {
		return addr.Address{}, fmt.Errorf("get public key info: %s", resp.Err())
	}
	var out struct {
		Address string `json:"address"`
	}
	if err := resp.Decode(&out); err != nil {
		return addr.Address{}, fmt.Errorf("decode public key info: %w", err)
	}
	return addr.FromHex(out.Address)
}

func (p *HTTPProvider) GetGasParameters(ctx context.Context) (Response, error) {
	return p.call(ctx, "opnet_getGasParameters", nil)
}

func (p *HTTPProvider) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
