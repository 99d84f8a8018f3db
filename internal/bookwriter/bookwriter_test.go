package bookwriter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addressbook"
)

func TestWriteBookRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "addressbook.json"), filepath.Join(dir, "keyfiles"))

	book := addressbook.Book{
		"admin": {Address: addr.Address{1}, Keyfile: "/etc/blockhost/keyfiles/admin.keyfile"},
	}
	if err := w.WriteBook(context.Background(), book); err != nil {
		t.Fatalf("write book: %v", err)
	}

	raw, err := os.ReadFile(w.BookPath)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var out map[string]struct {
		Address string `json:"address"`
		Keyfile string `json:"keyfile"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["admin"].Address != book["admin"].Address.String() {
		t.Fatalf("want address %s, got %s", book["admin"].Address.String(), out["admin"].Address)
	}
	if out["admin"].Keyfile != book["admin"].Keyfile {
		t.Fatalf("want keyfile %s, got %s", book["admin"].Keyfile, out["admin"].Keyfile)
	}
}

func TestWriteBookLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "addressbook.json"), filepath.Join(dir, "keyfiles"))

	if err := w.WriteBook(context.Background(), addressbook.Book{}); err != nil {
		t.Fatalf("write book: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "addressbook.json" {
			t.Fatalf("unexpected leftover file %s", e.Name())
		}
	}
}

func TestGenerateHotWalletWritesKeyfileAndDerivesAddress(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "addressbook.json"), filepath.Join(dir, "keyfiles"))

	path, address, err := w.GenerateHotWallet(context.Background())
	if err != nil {
		t.Fatalf("generate hot wallet: %v", err)
	}
	if address.IsZero() {
		t.Fatalf("want non-zero derived address")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read generated keyfile: %v", err)
	}
	if len(content) == 0 {
		t.Fatalf("want non-empty mnemonic in keyfile")
	}
}

func TestGenerateHotWalletIsNotDeterministic(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "addressbook.json"), filepath.Join(dir, "keyfiles"))

	_, a, err := w.GenerateHotWallet(context.Background())
	if err != nil {
		t.Fatalf("generate hot wallet: %v", err)
	}
	w2 := New(filepath.Join(dir, "addressbook2.json"), filepath.Join(dir, "keyfiles2"))
	_, b, err := w2.GenerateHotWallet(context.Background())
	if err != nil {
		t.Fatalf("generate hot wallet: %v", err)
	}
	if a == b {
		t.Fatalf("want two independently generated hot wallets to differ")
	}
}
