// Package bookwriter is the default addressbook.Writer: it persists
// the book as JSON via the same atomic temp-file + rename discipline
// internal/fundstate uses, and provisions a fresh hot wallet by
// generating a new BIP-39 mnemonic and writing it to its own keyfile.
package bookwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bip39 "github.com/tyler-smith/go-bip39"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addressbook"
	"blockhost-treasury/core/wallet"
)

// Writer implements addressbook.Writer against a book file and a
// keyfile directory on local disk.
type Writer struct {
	BookPath   string
	KeyfileDir string
}

// New builds a Writer that persists to bookPath and generates new
// keyfiles under keyfileDir.
func New(bookPath, keyfileDir string) *Writer {
	return &Writer{BookPath: bookPath, KeyfileDir: keyfileDir}
}

type entryJSON struct {
	Address string `json:"address"`
	Keyfile string `json:"keyfile,omitempty"`
}

// WriteBook serializes book to JSON and replaces BookPath atomically.
func (w *Writer) WriteBook(ctx context.Context, book addressbook.Book) error {
	out := make(map[string]entryJSON, len(book))
	for role, e := range book {
		out[role] = entryJSON{Address: e.Address.String(), Keyfile: e.Keyfile}
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal addressbook: %w", err)
	}

	dir := filepath.Dir(w.BookPath)
	tmp, err := os.CreateTemp(dir, ".addressbook-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp addressbook file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp addressbook file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp addressbook file: %w", err)
	}
	if err := os.Rename(tmpName, w.BookPath); err != nil {
		return fmt.Errorf("rename addressbook into place: %w", err)
	}
	return nil
}

// GenerateHotWallet creates a fresh BIP-39 mnemonic, writes it to a new
// keyfile under KeyfileDir, and returns the keyfile path and the
// resulting internal address.
func (w *Writer) GenerateHotWallet(ctx context.Context) (string, addr.Address, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", addr.Address{}, fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", addr.Address{}, fmt.Errorf("generate mnemonic: %w", err)
	}

	if err := os.MkdirAll(w.KeyfileDir, 0o700); err != nil {
		return "", addr.Address{}, fmt.Errorf("create keyfile dir: %w", err)
	}
	path := filepath.Join(w.KeyfileDir, "hot.keyfile")
	if err := os.WriteFile(path, []byte(mnemonic+"\n"), 0o600); err != nil {
		return "", addr.Address{}, fmt.Errorf("write hot keyfile: %w", err)
	}

	derived, err := wallet.FromMnemonic(mnemonic, "")
	if err != nil {
		return "", addr.Address{}, fmt.Errorf("derive hot wallet: %w", err)
	}
	derived.Wipe()
	return path, derived.InternalAddress, nil
}
