package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

type userMap map[uuid.UUID]*models.User

func (m userMap) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return m[id], nil
}

func TestParseTokenRoundTrip(t *testing.T) {
	id := uuid.New()
	tok, err := GenerateToken(id, "alice@example.com", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
}

func TestParseTokenRejects(t *testing.T) {
	id := uuid.New()

	expired, err := GenerateToken(id, "a@example.com", secret, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := GenerateToken(id, "a@example.com", "other", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: id}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"alg none":  none,
		"garbage":   "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(tok, secret)
			assert.Error(t, err)
		})
	}
}

func TestJWTAuthenticator(t *testing.T) {
	alice := &models.User{ID: uuid.New(), DisplayName: "Alice", Email: "alice@example.com"}
	a := NewJWTAuthenticator(secret, userMap{alice.ID: alice})
	ctx := context.Background()

	tok, err := GenerateToken(alice.ID, alice.Email, secret, time.Hour)
	require.NoError(t, err)

	p, err := a.Authenticate(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, p.UserID)
	assert.Equal(t, "Alice", p.DisplayName)

	_, err = a.Authenticate(ctx, "")
	assert.True(t, apperror.Is(err, apperror.KindAuthentication))

	ghost, err := GenerateToken(uuid.New(), "ghost@example.com", secret, time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, ghost)
	assert.True(t, apperror.Is(err, apperror.KindAuthentication))
}
