package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/MrEthical07/authkit/oauth"
	"github.com/MrEthical07/authkit/password"
	"github.com/MrEthical07/authkit/user"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// seedUsers registers every configured user under a fresh uuid.
func seedUsers(users *user.MapProvider, dir *password.Directory, seeds []seedUser) error {
	for _, s := range seeds {
		id := uuid.NewString()
		users.Put(user.Principal{
			ID:        id,
			Email:     s.Email,
			Active:    !s.Disabled,
			Verified:  s.Verified,
			Superuser: s.Superuser,
		})
		if err := dir.Add(s.Username, id, s.Password); err != nil {
			return fmt.Errorf("user %q: %w", s.Username, err)
		}
	}
	return nil
}

// userInfo is the subset of an OpenID Connect userinfo answer the demo uses.
type userInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// userInfoLinker maps provider accounts onto principals, creating one on the
// first login. A provider email already used by a password account is a
// conflict rather than an automatic link.
type userInfoLinker struct {
	users   *user.MapProvider
	configs map[string]providerEndpoint
	logger  *zap.Logger

	mu       sync.Mutex
	linked   map[string]string // provider:sub -> principal id
	reserved map[string]struct{}
}

type providerEndpoint struct {
	oauth2      *oauth2.Config
	userInfoURL string
}

var _ oauth.AccountLinker = (*userInfoLinker)(nil)

func newUserInfoLinker(users *user.MapProvider, seeds []seedUser, logger *zap.Logger) *userInfoLinker {
	reserved := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		if s.Email != "" {
			reserved[s.Email] = struct{}{}
		}
	}
	return &userInfoLinker{
		users:    users,
		configs:  make(map[string]providerEndpoint),
		logger:   logger.Named("linker"),
		linked:   make(map[string]string),
		reserved: reserved,
	}
}

func (l *userInfoLinker) register(name string, cfg *oauth2.Config, userInfoURL string) {
	l.configs[name] = providerEndpoint{oauth2: cfg, userInfoURL: userInfoURL}
}

func (l *userInfoLinker) Link(ctx context.Context, provider string, tok *oauth2.Token) (*user.Principal, error) {
	ep, ok := l.configs[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	info, err := fetchUserInfo(ctx, ep.oauth2.Client(ctx, tok), ep.userInfoURL)
	if err != nil {
		return nil, err
	}

	key := provider + ":" + info.Subject
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.linked[key]; ok {
		return l.users.GetByID(ctx, id)
	}
	if _, taken := l.reserved[info.Email]; taken && info.Email != "" {
		return nil, oauth.ErrAccountConflict
	}

	p := user.Principal{
		ID:       uuid.NewString(),
		Email:    info.Email,
		Active:   true,
		Verified: info.EmailVerified,
	}
	l.users.Put(p)
	l.linked[key] = p.ID
	if p.Email != "" {
		l.reserved[p.Email] = struct{}{}
	}
	l.logger.Info("created principal for provider account", zap.String("provider", provider), zap.String("user_id", p.ID))
	return &p, nil
}

func fetchUserInfo(ctx context.Context, client *http.Client, url string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo: status %d", resp.StatusCode)
	}
	var info userInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return nil, fmt.Errorf("userinfo: %w", err)
	}
	if info.Subject == "" {
		return nil, errors.New("userinfo: missing sub")
	}
	return &info, nil
}
