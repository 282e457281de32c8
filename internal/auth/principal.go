// Package auth verifies bearer tokens and resolves them to a Principal.
package auth

import (
	"errors"
)

// ErrNoVerifier is returned by an empty Chain.
var ErrNoVerifier = errors.New("no token verifier configured")

// Principal is the verified identity behind a request.
type Principal struct {
	UserID     string
	Email      string
	Name       string
	Workspaces []string
}

// CanAccess reports whether the principal may act on workspaceID.
// A principal without a workspace claim is not scoped.
func (p *Principal) CanAccess(workspaceID string) bool {
	if len(p.Workspaces) == 0 {
		return true
	}
	for _, ws := range p.Workspaces {
		if ws == workspaceID {
			return true
		}
	}
	return false
}

// TokenVerifier resolves a raw bearer token to a Principal.
type TokenVerifier interface {
	Verify(tokenString string) (*Principal, error)
}

// Chain tries each verifier in order and returns the first success.
type Chain []TokenVerifier

func (c Chain) Verify(tokenString string) (*Principal, error) {
	if len(c) == 0 {
		return nil, ErrNoVerifier
	}
	errs := make([]error, 0, len(c))
	for _, v := range c {
		p, err := v.Verify(tokenString)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
