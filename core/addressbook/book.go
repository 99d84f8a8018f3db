// Package addressbook implements Component B: the role ↔ address ↔
// optional-keyfile mapping persisted as JSON by an external writer.
// The book itself never writes the file directly — mutations are
// handed to an injected Writer, which is expected to perform an
// atomic temp-file + rename replacement.
package addressbook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	log "github.com/sirupsen/logrus"

	"blockhost-treasury/core/addr"
	"blockhost-treasury/core/addresscodec"
	"blockhost-treasury/core/errs"
	"blockhost-treasury/core/wallet"
)

var roleNameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// Entry is one addressbook record. Keyfile is empty for read-only
// entries: they can receive funds but cannot sign.
type Entry struct {
	Role    string `json:"-"`
	Address addr.Address
	Keyfile string
}

type entryJSON struct {
	Address string `json:"address"`
	Keyfile string `json:"keyfile,omitempty"`
}

// Book is an ordered-insertion-irrelevant role → Entry mapping.
type Book map[string]Entry

// Writer performs the persisted mutation. The agent (out of this
// repo's scope) is expected to replace the file via
// temp-file + rename and own its permissions.
type Writer interface {
	WriteBook(ctx context.Context, book Book) error
	// GenerateHotWallet asks the external agent to create a fresh
	// keyfile for the "hot" role and returns its path.
	GenerateHotWallet(ctx context.Context) (keyfilePath string, address addr.Address, err error)
}

// SetLogger overrides the package logger.
func SetLogger(l *log.Logger) { logger = l }

var logger = log.StandardLogger()

// Load reads the persisted JSON book at path. Entries whose address is
// not a valid internal address are dropped with a diagnostic log, not
// "corrected". A missing file yields an empty
// book, never an error.
func Load(path string) (Book, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Book{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read addressbook %s: %w", path, err)
	}

	var raw2 map[string]entryJSON
	if err := json.Unmarshal(raw, &raw2); err != nil {
		logger.Errorf("addressbook: malformed JSON at %s: %v", path, err)
		return Book{}, nil
	}

	book := make(Book, len(raw2))
	for role, ej := range raw2 {
		a, err := addr.FromHex(ej.Address)
		if err != nil || !addresscodec.IsInternal(ej.Address) {
			logger.Warnf("addressbook: dropping role %q with invalid address %q", role, ej.Address)
			continue
		}
		book[role] = Entry{Role: role, Address: a, Keyfile: ej.Keyfile}
	}
	return book, nil
}

// Save hands the book off to the external writer. On failure it logs
// and returns — it does not retry.
func Save(ctx context.Context, w Writer, book Book) {
	if err := w.WriteBook(ctx, book); err != nil {
		logger.Errorf("addressbook: save failed: %v", err)
	}
}

// ResolveAddress resolves an identifier that is either an address
// (internal or bech32m) or a role name into an internal address.
func ResolveAddress(ctx context.Context, resolver addresscodec.Resolver, book Book, id string) (addr.Address, error) {
	if addresscodec.IsInternal(id) {
		return addresscodec.Normalize(ctx, resolver, id)
	}
	if looksLikeBech32(id) {
		a, err := addresscodec.Normalize(ctx, resolver, id)
		if err == nil {
			return a, nil
		}
		// fall through to role lookup on failure — id might coincidentally
		// look bech32-shaped but actually be a role name.
	}
	entry, ok := book[id]
	if !ok {
		return addr.Address{}, fmt.Errorf("%w: role %q not in addressbook", errs.ErrUnresolvable, id)
	}
	return entry.Address, nil
}

func looksLikeBech32(s string) bool {
	for _, r := range s {
		if r == '1' {
			return true
		}
	}
	return false
}

// ResolveWallet resolves role to a signing Wallet. Fails with
// ErrNoKeyfile if the role is read-only, ErrKeyfileMissing if the file
// referenced no longer exists on disk.
func ResolveWallet(book Book, role string) (*wallet.Wallet, error) {
	entry, ok := book[role]
	if !ok {
		return nil, fmt.Errorf("%w: role %q", errs.ErrUnresolvable, role)
	}
	if entry.Keyfile == "" {
		return nil, fmt.Errorf("%w: role %q", errs.ErrNoKeyfile, role)
	}
	if _, err := os.Stat(entry.Keyfile); err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrKeyfileMissing, entry.Keyfile)
	}
	w, err := wallet.FromKeyfile(entry.Keyfile)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet for role %q: %w", role, err)
	}
	return w, nil
}

// ValidateRoleName enforces the role-name pattern required by
// new-entry APIs.
func ValidateRoleName(role string) error {
	if !roleNameRe.MatchString(role) {
		return fmt.Errorf("%w: %q", errs.ErrInvalidRoleName, role)
	}
	return nil
}

// EnsureHotWallet guarantees a "hot" role exists, generating one via
// the external agent and persisting the book if it does not.
func EnsureHotWallet(ctx context.Context, w Writer, book Book) (Book, error) {
	if _, ok := book["hot"]; ok {
		return book, nil
	}
	keyfile, address, err := w.GenerateHotWallet(ctx)
	if err != nil {
		return book, fmt.Errorf("generate hot wallet: %w", err)
	}
	next := make(Book, len(book)+1)
	for k, v := range book {
		next[k] = v
	}
	next["hot"] = Entry{Role: "hot", Address: address, Keyfile: keyfile}
	Save(ctx, w, next)
	return next, nil
}
