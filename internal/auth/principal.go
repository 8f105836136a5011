package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
)

// Principal is the authenticated identity attached to a connection. It is
// fixed for the connection's lifetime; the active workspace is tracked on
// the connection itself.
type Principal struct {
	UserID       uuid.UUID `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	DisplayEmail string    `json:"display_email"`
}

// Authenticator turns a transport credential into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*Principal, error)
}

// UserLookup is the slice of the user repository the authenticator needs.
type UserLookup interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// JWTAuthenticator verifies a session token and resolves the display
// identity from the user table, so a token for a deleted user is refused.
type JWTAuthenticator struct {
	secret string
	users  UserLookup
}

func NewJWTAuthenticator(secret string, users UserLookup) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, users: users}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, credential string) (*Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperror.Unauthenticated("missing credential")
	}

	claims, err := ParseToken(credential, a.secret)
	if err != nil {
		return nil, apperror.Unauthenticated("invalid or expired token")
	}

	user, err := a.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	if user == nil {
		return nil, apperror.Unauthenticated("unknown user")
	}

	return &Principal{
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		DisplayEmail: user.Email,
	}, nil
}
