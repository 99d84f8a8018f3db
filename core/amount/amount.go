// Package amount implements base-unit monetary amounts: all
// monetary quantities are non-negative unbounded integers in a token's
// smallest base unit, parsed from and formatted to decimal strings.
package amount

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeDecimals is the native coin's fixed fractional precision (sats).
const NativeDecimals = 8

// Parse converts a decimal string "W.F" into W·10^d + pad(F,d). It is
// the exact inverse of Format for every well-formed input.
func Parse(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", s, decimals)
	}
	if hasFrac {
		frac = frac + strings.Repeat("0", decimals-len(frac))
	} else {
		frac = strings.Repeat("0", decimals)
	}
	if frac == "" {
		frac = "0" // decimals == 0: no fractional digits
	}

	w, ok := new(big.Int).SetString(whole, 10)
	if !ok || w.Sign() < 0 {
		return nil, fmt.Errorf("invalid whole part in %q", s)
	}
	f, ok := new(big.Int).SetString(frac, 10)
	if !ok || f.Sign() < 0 {
		return nil, fmt.Errorf("invalid fractional part in %q", s)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(w, scale)
	out.Add(out, f)
	return out, nil
}

// Format renders n (base units) as a decimal string with trailing
// zeros trimmed, the exact inverse of Parse.
func Format(n *big.Int, decimals int) string {
	if n == nil {
		n = big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	w := new(big.Int)
	f := new(big.Int)
	w.QuoRem(n, scale, f)
	if decimals == 0 {
		return w.String()
	}
	fracStr := f.String()
	if len(fracStr) < decimals {
		fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	if fracStr == "" {
		return w.String()
	}
	return w.String() + "." + fracStr
}

// Sub performs saturating-safe subtraction: underflow is a hard error,
// never a silent wrap.
func Sub(a, b *big.Int) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, fmt.Errorf("underflow: %s - %s", a.String(), b.String())
	}
	return new(big.Int).Sub(a, b), nil
}

// Recipient is one basis-point share recipient.
type Recipient struct {
	Role string
	Bps  uint64
}

// Share is a computed distribution entry.
type Share struct {
	Role   string
	Amount *big.Int
}

// SplitByBps distributes balance across recipients whose Bps sum to
// totalBps. It returns an error if they don't sum exactly — the caller
// is expected to disable the whole distribution on that error rather
// than apply it partially. Every
// recipient's share is floor(balance*bps/totalBps) except the last,
// which absorbs the rounding remainder so the shares sum to balance
// exactly.
func SplitByBps(balance *big.Int, totalBps uint64, recipients []Recipient) ([]Share, error) {
	if totalBps == 0 {
		return nil, fmt.Errorf("total_bps must be non-zero")
	}
	var sum uint64
	for _, r := range recipients {
		sum += r.Bps
	}
	if sum != totalBps {
		return nil, fmt.Errorf("recipient bps sum %d does not equal total_bps %d", sum, totalBps)
	}

	total := new(big.Int).Set(totalBps2Big(totalBps))
	out := make([]Share, 0, len(recipients))
	running := new(big.Int)
	for i, r := range recipients {
		if i == len(recipients)-1 {
			last, err := Sub(balance, running)
			if err != nil {
				return nil, err
			}
			out = append(out, Share{Role: r.Role, Amount: last})
			continue
		}
		share := new(big.Int).Mul(balance, big.NewInt(int64(r.Bps)))
		share.Quo(share, total)
		running.Add(running, share)
		out = append(out, Share{Role: r.Role, Amount: share})
	}
	return out, nil
}

func totalBps2Big(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
