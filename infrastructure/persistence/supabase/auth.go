package supabase

import (
	"context"

	pkgerrors "flowbuilder/pkg/errors"

	"github.com/supabase-community/gotrue-go"
)

// TokenVerifier checks bearer tokens against Supabase Auth
type TokenVerifier struct {
	auth gotrue.Client
}

// NewTokenVerifier creates a verifier using the client's auth API
func NewTokenVerifier(auth gotrue.Client) *TokenVerifier {
	return &TokenVerifier{auth: auth}
}

// Verify resolves token to the user id it was issued for
func (v *TokenVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", pkgerrors.NewUnauthorizedError("missing bearer token")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// GetUser takes no context.
	user, err := v.auth.WithToken(token).GetUser()
	if err != nil {
		return "", pkgerrors.NewUnauthorizedError("invalid token").WithCause(err)
	}
	return user.ID.String(), nil
}
