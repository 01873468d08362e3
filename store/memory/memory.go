// Package memory is a process-local token store backed by go-cache.
//
// It is meant for tests, the demo binary and single-instance deployments.
// Records are lost on restart.
package memory

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/MrEthical07/authkit/token"
	gocache "github.com/patrickmn/go-cache"
)

// Store implements [token.Store].
type Store struct {
	mu     sync.Mutex
	c      *gocache.Cache
	owners map[string]map[string]struct{}
	now    func() time.Time
}

var _ token.Store = (*Store)(nil)

// New returns an empty store. Access and refresh records never expire on their
// own; age filters are applied on read. OTP entries expire with the code.
func New() *Store {
	return &Store{
		c:      gocache.New(gocache.NoExpiration, time.Minute),
		owners: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

func accessKey(raw string) string         { return "a:" + raw }
func refreshKey(key string) string        { return "r:" + key }
func otpKey(access, factor string) string { return "o:" + access + ":" + factor }
func ownerKey(kind, userID string) string { return kind + ":" + userID }

func (s *Store) index(kind, userID, key string) {
	ok := ownerKey(kind, userID)
	set := s.owners[ok]
	if set == nil {
		set = make(map[string]struct{})
		s.owners[ok] = set
	}
	set[key] = struct{}{}
}

func (s *Store) unindex(kind, userID, key string) {
	ok := ownerKey(kind, userID)
	if set := s.owners[ok]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(s.owners, ok)
		}
	}
}

func (s *Store) GetAccessToken(ctx context.Context, raw string, q token.Query) (*token.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.c.Get(accessKey(raw))
	if !ok {
		return nil, token.ErrNotFound
	}
	rec := v.(*token.AccessToken)
	if !q.Matches(rec, s.now()) {
		return nil, token.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *Store) CreateAccessToken(ctx context.Context, rec *token.AccessToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Set(accessKey(rec.Token), rec.Clone(), gocache.NoExpiration)
	s.index("a", rec.UserID, rec.Token)
	return nil
}

func (s *Store) UpdateAccessToken(ctx context.Context, rec *token.AccessToken, patch token.AccessPatch) (*token.AccessToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(accessKey(rec.Token))
	if !ok {
		return nil, token.ErrNotFound
	}
	next := v.(*token.AccessToken).Apply(patch)
	s.c.Set(accessKey(rec.Token), next, gocache.NoExpiration)
	return next.Clone(), nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, raw string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(accessKey(raw))
	if !ok {
		return nil
	}
	s.c.Delete(accessKey(raw))
	s.unindex("a", v.(*token.AccessToken).UserID, raw)
	return nil
}

func (s *Store) DeleteAccessTokensForOwner(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for raw := range s.owners[ownerKey("a", userID)] {
		s.c.Delete(accessKey(raw))
	}
	delete(s.owners, ownerKey("a", userID))
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, key string, maxAge time.Duration) (*token.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.c.Get(refreshKey(key))
	if !ok {
		return nil, token.ErrNotFound
	}
	rec := v.(*token.RefreshToken)
	if maxAge > 0 && rec.CreatedAt.Before(s.now().Add(-maxAge)) {
		return nil, token.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, rec *token.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.c.Set(refreshKey(rec.Token), &cp, gocache.NoExpiration)
	s.index("r", rec.UserID, rec.Token)
	return nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(refreshKey(key))
	if !ok {
		return nil
	}
	s.c.Delete(refreshKey(key))
	s.unindex("r", v.(*token.RefreshToken).UserID, key)
	return nil
}

func (s *Store) ConsumeRefreshToken(ctx context.Context, key string) (*token.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(refreshKey(key))
	if !ok {
		return nil, token.ErrNotFound
	}
	rec := *v.(*token.RefreshToken)
	s.c.Delete(refreshKey(key))
	s.unindex("r", rec.UserID, key)
	return &rec, nil
}

func (s *Store) DeleteRefreshTokensForOwner(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.owners[ownerKey("r", userID)] {
		s.c.Delete(refreshKey(key))
	}
	delete(s.owners, ownerKey("r", userID))
	return nil
}

// CreateOTP replaces any live code for the same (access token, factor).
func (s *Store) CreateOTP(ctx context.Context, rec *token.OTP) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	cp := *rec
	s.c.Set(otpKey(rec.AccessToken, rec.Factor), &cp, ttl)
	return nil
}

func (s *Store) FindOTP(ctx context.Context, accessToken, factor, code string) (*token.OTP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.c.Get(otpKey(accessToken, factor))
	if !ok {
		return nil, token.ErrNotFound
	}
	rec := v.(*token.OTP)
	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(code)) != 1 {
		return nil, token.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) DeleteOTP(ctx context.Context, accessToken, factor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.c.Delete(otpKey(accessToken, factor))
	return nil
}
