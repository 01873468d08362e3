package token

import "time"

// AccessToken is the stateful access-token record.
type AccessToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Scope     Scope     `json:"scope"`
	MFAScopes MFAScopes `json:"mfa_scopes"`
}

func (t *AccessToken) Clone() *AccessToken {
	if t == nil {
		return nil
	}
	out := *t
	out.MFAScopes = t.MFAScopes.Clone()
	return &out
}

// Apply returns a copy of t with patch applied. Scope is recomputed by the
// caller; Apply does not infer it from MFAScopes.
func (t *AccessToken) Apply(patch AccessPatch) *AccessToken {
	out := t.Clone()
	if patch.Scope != nil {
		out.Scope = *patch.Scope
	}
	if patch.MFAScopes != nil {
		out.MFAScopes = patch.MFAScopes.Clone()
	}
	return out
}

// RefreshToken is a long-lived rotation credential. Stores only ever see the
// hashed key in Token.
type RefreshToken struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// OTP is a one-time code bound to an access token and a factor.
type OTP struct {
	AccessToken string    `json:"access_token"`
	Factor      string    `json:"factor"`
	Code        string    `json:"code"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its expiry at now.
func (o *OTP) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// AccessPatch lists the mutable fields of an access token. Nil fields are left
// unchanged.
type AccessPatch struct {
	Scope     *Scope
	MFAScopes MFAScopes
}

// Query carries the filters a store applies when resolving an access token.
type Query struct {
	// MaxAge rejects records created before now-MaxAge. Zero disables the filter.
	MaxAge time.Duration
	// Authorized only returns records whose scope is approved.
	Authorized bool
	// IgnoreExpired disables the MaxAge filter. Only the renew flow sets it.
	IgnoreExpired bool
}

// Cutoff returns the earliest acceptable creation time, if any.
func (q Query) Cutoff(now time.Time) (time.Time, bool) {
	if q.IgnoreExpired || q.MaxAge <= 0 {
		return time.Time{}, false
	}
	return now.Add(-q.MaxAge), true
}

// Matches evaluates q against rec in memory, for stores that cannot push the
// filter into a query language.
func (q Query) Matches(rec *AccessToken, now time.Time) bool {
	if rec == nil {
		return false
	}
	if cutoff, ok := q.Cutoff(now); ok && rec.CreatedAt.Before(cutoff) {
		return false
	}
	if q.Authorized && !rec.Scope.IsApproved() {
		return false
	}
	return true
}
