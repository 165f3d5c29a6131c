package auth

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/open-resource-discovery/provider-server/pkg/apierror"
)

// BasicValidator checks HTTP Basic credentials against a configured
// mapping of username to bcrypt hash.
type BasicValidator struct {
	Users map[string]string // username -> bcrypt hash
}

func NewBasicValidator(users map[string]string) *BasicValidator {
	return &BasicValidator{Users: users}
}

func (b *BasicValidator) Validate(r *http.Request) error {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return apierror.Unauthorized("missing or malformed Authorization header")
	}
	hash, known := b.Users[user]
	if !known {
		return apierror.Unauthorized("unknown user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		return apierror.Unauthorized("invalid credentials")
	}
	return nil
}
