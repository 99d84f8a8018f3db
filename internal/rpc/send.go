package rpc

import "context"

// SendSigned is the single helper every submission site calls to sign
// and send a simulated call. maxSat is nil to accept
// DefaultMaxSatToSpend.
func SendSigned(ctx context.Context, p Provider, sendable *Sendable, signer Signer, network string, maxSat *uint64) (string, error) {
	opts := SendOpts{
		RefundTo:      signer.Address(),
		MaxSatToSpend: DefaultMaxSatToSpend,
		Network:       network,
	}
	if maxSat != nil {
		opts.MaxSatToSpend = *maxSat
	}
	return p.SendSigned(ctx, sendable, signer, opts)
}
