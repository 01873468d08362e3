package password

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrEthical07/authkit/user"
	"go.uber.org/zap"
)

// ErrDuplicateUsername is returned by Directory.Add for a taken username.
var ErrDuplicateUsername = errors.New("username already registered")

type account struct {
	principalID string
	hash        string
}

// Directory is an in-memory user.CredentialVerifier. It maps usernames to
// argon2id hashes and resolves the principal through a user.Provider, so
// deactivating a principal takes effect on the next login.
type Directory struct {
	hasher *Argon2
	users  user.Provider
	logger *zap.Logger

	mu       sync.RWMutex
	accounts map[string]account
	// dummy is verified for unknown usernames so both paths cost one hash.
	dummy string
}

var _ user.CredentialVerifier = (*Directory)(nil)

// NewDirectory authenticates credentials against users with hasher.
func NewDirectory(hasher *Argon2, users user.Provider, logger *zap.Logger) (*Directory, error) {
	if hasher == nil || users == nil {
		return nil, errors.New("password: hasher and user provider are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dummy, err := hasher.Hash("authkit-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &Directory{
		hasher:   hasher,
		users:    users,
		logger:   logger.Named("password"),
		accounts: make(map[string]account),
		dummy:    dummy,
	}, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Add registers username for principalID. Usernames are case-insensitive.
func (d *Directory) Add(username, principalID, plaintext string) error {
	name := normalize(username)
	if name == "" || principalID == "" {
		return errors.New("password: username and principal id are required")
	}
	hash, err := d.hasher.Hash(plaintext)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[name]; ok {
		return ErrDuplicateUsername
	}
	d.accounts[name] = account{principalID: principalID, hash: hash}
	return nil
}

// Verify returns user.ErrInvalidCredentials for an unknown username or a
// wrong password. Hashes made with weaker parameters are upgraded in place.
func (d *Directory) Verify(ctx context.Context, username, plaintext string) (*user.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := normalize(username)

	d.mu.RLock()
	acct, ok := d.accounts[name]
	d.mu.RUnlock()
	if !ok {
		_, _ = d.hasher.Verify(plaintext, d.dummy)
		return nil, user.ErrInvalidCredentials
	}

	match, err := d.hasher.Verify(plaintext, acct.hash)
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, user.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, user.ErrInvalidCredentials
	}

	d.maybeUpgrade(name, acct, plaintext)

	p, err := d.users.GetByID(ctx, acct.principalID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, user.ErrInvalidCredentials
	}
	return p, err
}

func (d *Directory) maybeUpgrade(name string, acct account, plaintext string) {
	stale, err := d.hasher.NeedsUpgrade(acct.hash)
	if err != nil || !stale {
		return
	}
	hash, err := d.hasher.Hash(plaintext)
	if err != nil {
		d.logger.Warn("rehash failed", zap.String("principal_id", acct.principalID), zap.Error(err))
		return
	}
	d.mu.Lock()
	if cur, ok := d.accounts[name]; ok && cur.hash == acct.hash {
		d.accounts[name] = account{principalID: acct.principalID, hash: hash}
	}
	d.mu.Unlock()
}
