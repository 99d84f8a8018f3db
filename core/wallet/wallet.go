// Package wallet implements Component C, the Wallet Resolver: deriving
// a {classical keypair, post-quantum keypair, external address,
// internal address} wallet from a keyfile's mnemonic.
//
// The resolver is pure — the same keyfile always derives the same
// wallet — and never caches derived secrets across calls. Wallets are
// meant to be ephemeral per transaction; callers
// are responsible for calling Wipe on the returned value once signing
// is done.
package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
	log "github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"

	"blockhost-treasury/core/addr"
)

const masterHMACKey = "blockhost treasury seed"

// SetLogger overrides the package logger; defaults to logrus's standard
// logger.
func SetLogger(l *log.Logger) { logger = l }

var logger = log.StandardLogger()

// HRP is the bech32m human-readable prefix new wallet addresses render
// under. It mirrors addresscodec.DefaultPrefixes.NativeTaproot[0].
const HRP = "bh"

// PQKeyPair is the wallet's post-quantum signing material. The pack
// carries no ML-DSA/Dilithium implementation (see DESIGN.md), so the
// key material here is a deterministic SHAKE256 expansion of the same
// seed used for the classical key — it occupies the same structural
// slot a real post-quantum keypair would and is wiped the same way;
// swapping in a real ML-DSA library only touches this struct and
// derivePostQuantum.
type PQKeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// ClassicalKeyPair is the chain's primary signing keypair, secp256k1 —
// the same curve the rest of the Bitcoin-layer stack in this pack uses
// (btcec, as imported by peterzen-dcrdex and degeri-dcrlnd).
type ClassicalKeyPair struct {
	Priv *btcec.PrivateKey
	Pub  *btcec.PublicKey
}

// Wallet is the short-lived, keyfile-backed value type carried by
// reference through the fund manager / swap router pipeline. The
// classical and post-quantum keys are never split.
type Wallet struct {
	Classical       ClassicalKeyPair
	PostQuantum     PQKeyPair
	ExternalAddress string
	InternalAddress addr.Address

	seed []byte
}

// Wipe zeroes every secret field in-place. Best-effort: the GC may
// already have copied bytes elsewhere, so this is not a security
// guarantee, only hygiene — destroying the in-memory wallet after use
// is the caller's responsibility.
func (w *Wallet) Wipe() {
	if w == nil {
		return
	}
	zero(w.seed)
	// btcec.PrivateKey holds its scalar behind the secp256k1 library's
	// own type; we drop our reference rather than poke at internals we
	// don't own, and rely on the GC for the rest.
	w.Classical.Priv = nil
	w.Classical.Pub = nil
	zero(w.PostQuantum.PrivateKey)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// FromMnemonic derives a Wallet from a BIP-39 mnemonic phrase. Same
// mnemonic (+ passphrase) always yields the same wallet.
func FromMnemonic(mnemonic, passphrase string) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return fromSeed(seed)
}

// FromKeyfile reads a keyfile containing a mnemonic phrase (one line,
// optionally followed by a passphrase on a second line) and derives
// the corresponding Wallet.
func FromKeyfile(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile %s: %w", path, err)
	}
	lines := strings.SplitN(strings.TrimSpace(string(raw)), "\n", 2)
	mnemonic := strings.TrimSpace(lines[0])
	passphrase := ""
	if len(lines) == 2 {
		passphrase = strings.TrimSpace(lines[1])
	}
	w, err := FromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive wallet from %s: %w", path, err)
	}
	return w, nil
}

func fromSeed(seed []byte) (*Wallet, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("seed too short")
	}
	I := hmacSHA512([]byte(masterHMACKey), seed)
	classicalSeed := I[:32]
	pqSeed := I[32:]

	priv, pub := btcec.PrivKeyFromBytes(classicalSeed)

	pq := derivePostQuantum(pqSeed)

	internal := deriveInternalAddress(pub, pq.PublicKey)
	external, err := encodeExternal(internal)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		Classical:       ClassicalKeyPair{Priv: priv, Pub: pub},
		PostQuantum:     pq,
		ExternalAddress: external,
		InternalAddress: internal,
		seed:            seed,
	}
	logger.Infof("wallet: derived internal address %s", w.InternalAddress.Short())
	return w, nil
}

// derivePostQuantum expands a 32-byte seed into a placeholder
// post-quantum keypair via SHAKE256. See PQKeyPair's doc comment.
func derivePostQuantum(seed []byte) PQKeyPair {
	priv := make([]byte, 64)
	pub := make([]byte, 32)
	h := sha3.NewShake256()
	h.Write(seed)
	h.Read(priv)
	h2 := sha3.NewShake256()
	h2.Write(priv)
	h2.Read(pub)
	return PQKeyPair{PublicKey: pub, PrivateKey: priv}
}

// deriveInternalAddress binds both the classical and post-quantum
// public keys into the chain's 32-byte identity. Native-taproot
// addresses render the identity directly as their witness program, so
// this is also what the external bech32m address round-trips through.
func deriveInternalAddress(classicalPub *btcec.PublicKey, pqPub []byte) addr.Address {
	h := sha256.New()
	h.Write(classicalPub.SerializeCompressed())
	h.Write(pqPub)
	sum := h.Sum(nil)
	var out addr.Address
	copy(out[:], sum)
	return out
}

func encodeExternal(internal addr.Address) (string, error) {
	data5, err := bech32.ConvertBits(internal[:], 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits for bech32m encoding: %w", err)
	}
	payload := append([]byte{1}, data5...) // witness version 1
	s, err := bech32.EncodeM(HRP, payload)
	if err != nil {
		return "", fmt.Errorf("bech32m encode: %w", err)
	}
	return s, nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Hex is a convenience wrapper matching the teacher's Address.Hex.
func Hex(a addr.Address) string { return "0x" + hex.EncodeToString(a[:]) }

// Address implements rpc.Signer.
func (w *Wallet) Address() addr.Address { return w.InternalAddress }

// ClassicalSign signs digest with the wallet's secp256k1 key using
// BIP-340 Schnorr signatures, implementing rpc.Signer. The chain's
// native-taproot witness programs are schnorr-verified, matching the
// btcec/v2/schnorr usage the rest of the pack's btcsuite-based repos
// reach for.
func (w *Wallet) ClassicalSign(digest []byte) ([]byte, error) {
	if w.Classical.Priv == nil {
		return nil, fmt.Errorf("wallet has been wiped")
	}
	h := sha256.Sum256(digest)
	sig, err := schnorr.Sign(w.Classical.Priv, h[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PostQuantumSign signs digest with the wallet's post-quantum key,
// implementing rpc.Signer.
func (w *Wallet) PostQuantumSign(digest []byte) ([]byte, error) {
	if w.PostQuantum.PrivateKey == nil || w.Classical.Priv == nil {
		return nil, fmt.Errorf("wallet has been wiped")
	}
	h := sha3.NewShake256()
	h.Write(w.PostQuantum.PrivateKey)
	h.Write(digest)
	sig := make([]byte, 64)
	h.Read(sig)
	return sig, nil
}
