// Package auth implements the Authenticator: an OR-composition of
// validators, one per configured auth method. A request passes if any
// one validator succeeds.
package auth

import (
	"net/http"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
)

// Validator checks one authentication mode against an incoming request.
type Validator interface {
	Validate(r *http.Request) error
}

// Composer runs every configured validator and succeeds if any one does.
// An empty validator list (open mode) always succeeds.
type Composer struct {
	Validators []Validator
}

func New(validators ...Validator) *Composer {
	return &Composer{Validators: validators}
}

// Authenticate returns nil if r passes at least one validator, or the
// last validator's error (wrapped as Unauthorized) if every one fails.
// Open mode (no validators configured) always passes.
func (c *Composer) Authenticate(r *http.Request) error {
	if len(c.Validators) == 0 {
		return nil
	}
	var lastErr error
	for _, v := range c.Validators {
		if err := v.Validate(r); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = apierror.Unauthorized("authentication required")
	}
	return lastErr
}
