package token

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SystemScope is the closed set of scopes the engine itself understands.
type SystemScope uint8

const (
	// ScopeNone marks an access token that has not completed MFA.
	ScopeNone SystemScope = iota
	// ScopeApproved marks an access token whose configured factors are all approved.
	ScopeApproved
)

func (s SystemScope) String() string {
	switch s {
	case ScopeApproved:
		return "approved"
	default:
		return "none"
	}
}

// Scope is either a [SystemScope] or an application-defined name.
//
// The zero value is the "none" system scope.
type Scope struct {
	system SystemScope
	other  string
}

var (
	None     = Scope{system: ScopeNone}
	Approved = Scope{system: ScopeApproved}
)

// System wraps a system scope.
func System(s SystemScope) Scope {
	return Scope{system: s}
}

// Other builds an application-defined scope. Names that collide with a system
// scope resolve to the system variant so that "approved" can never be forged
// through the free-form branch.
func Other(name string) Scope {
	return ParseScope(name)
}

// ParseScope maps a stored scope string back to its variant.
func ParseScope(name string) Scope {
	switch name {
	case "", "none":
		return None
	case "approved":
		return Approved
	default:
		return Scope{other: name}
	}
}

// System reports the system variant, if this scope is one.
func (s Scope) System() (SystemScope, bool) {
	if s.other != "" {
		return 0, false
	}
	return s.system, true
}

// IsApproved reports whether the scope is the approved system scope.
func (s Scope) IsApproved() bool {
	return s.other == "" && s.system == ScopeApproved
}

func (s Scope) String() string {
	if s.other != "" {
		return s.other
	}
	return s.system.String()
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	*s = ParseScope(string(b))
	return nil
}

// MFAScopes maps a factor name to its approval flag.
//
// On the wire flags are encoded as 0/1 integers.
type MFAScopes map[string]bool

// NewMFAScopes returns an unapproved entry for every factor.
func NewMFAScopes(factors []string) MFAScopes {
	out := make(MFAScopes, len(factors))
	for _, f := range factors {
		out[f] = false
	}
	return out
}

func (m MFAScopes) Clone() MFAScopes {
	if m == nil {
		return nil
	}
	out := make(MFAScopes, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Has reports whether factor is one of the token's configured factors.
func (m MFAScopes) Has(factor string) bool {
	_, ok := m[factor]
	return ok
}

// Approved reports whether factor is present and approved.
func (m MFAScopes) Approved(factor string) bool {
	return m[factor]
}

// Approve returns a copy of m with factor approved.
func (m MFAScopes) Approve(factor string) MFAScopes {
	out := m.Clone()
	if out == nil {
		out = MFAScopes{}
	}
	out[factor] = true
	return out
}

// AllApproved reports whether every factor in factors is approved. An empty
// factor list is vacuously approved.
func (m MFAScopes) AllApproved(factors []string) bool {
	for _, f := range factors {
		if !m[f] {
			return false
		}
	}
	return true
}

// Factors returns the factor names in sorted order.
func (m MFAScopes) Factors() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m MFAScopes) MarshalJSON() ([]byte, error) {
	wire := make(map[string]int, len(m))
	for k, v := range m {
		if v {
			wire[k] = 1
		} else {
			wire[k] = 0
		}
	}
	return json.Marshal(wire)
}

func (m *MFAScopes) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(MFAScopes, len(raw))
	for k, v := range raw {
		switch string(v) {
		case "1", "true":
			out[k] = true
		case "0", "false":
			out[k] = false
		default:
			return fmt.Errorf("invalid mfa flag for %q: %s", k, v)
		}
	}
	*m = out
	return nil
}
