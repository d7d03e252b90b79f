// Package auth holds the HTTP middleware that sits in front of the router:
// API key enforcement, request ids and CORS.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/Mindburn-Labs/aatp-router/pkg/api"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Policy controls how the X-API-Key header is enforced.
type Policy string

const (
	// PolicyRequired rejects requests without a valid key.
	PolicyRequired Policy = "required"
	// PolicyOptional rejects wrong keys but admits requests without one.
	PolicyOptional Policy = "optional"
	// PolicyDisabled ignores the header entirely.
	PolicyDisabled Policy = "disabled"
)

// APIKeys validates client keys in constant time.
type APIKeys struct {
	policy Policy
	hashes [][sha256.Size]byte
}

// NewAPIKeys builds a validator. An unknown policy is treated as required.
func NewAPIKeys(policy string, keys []string) *APIKeys {
	p := Policy(policy)
	switch p {
	case PolicyRequired, PolicyOptional, PolicyDisabled:
	default:
		p = PolicyRequired
	}
	a := &APIKeys{policy: p}
	for _, k := range keys {
		if k == "" {
			continue
		}
		a.hashes = append(a.hashes, sha256.Sum256([]byte(k)))
	}
	return a
}

// Policy returns the enforcement policy.
func (a *APIKeys) Policy() Policy { return a.policy }

// Check applies the policy to a presented key.
func (a *APIKeys) Check(presented string) error {
	if a == nil || a.policy == PolicyDisabled {
		return nil
	}
	if presented == "" {
		if a.policy == PolicyOptional {
			return nil
		}
		return contracts.NewError(contracts.CodeAuthenticationFailed, "missing API key")
	}
	if !a.valid(presented) {
		return contracts.NewError(contracts.CodeAuthenticationFailed, "invalid API key")
	}
	return nil
}

// valid compares against every configured key so timing does not depend on
// which key matched.
func (a *APIKeys) valid(presented string) bool {
	h := sha256.Sum256([]byte(presented))
	match := 0
	for i := range a.hashes {
		match |= subtle.ConstantTimeCompare(h[:], a.hashes[i][:])
	}
	return match == 1
}

// Middleware enforces the policy on every request it wraps.
func (a *APIKeys) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r.Header.Get(contracts.HeaderAPIKey)); err != nil {
			api.WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
