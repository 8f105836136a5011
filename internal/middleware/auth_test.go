package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/chorus/internal/apperror"
	"github.com/lalith-99/chorus/internal/auth"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type staticAuth struct {
	token     string
	principal *auth.Principal
}

func (s staticAuth) Authenticate(_ context.Context, credential string) (*auth.Principal, error) {
	if credential != s.token {
		return nil, apperror.Unauthenticated("bad token")
	}
	return s.principal, nil
}

func newRouter(a auth.Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(a, zap.NewNop()))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c).String())
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	p := &auth.Principal{UserID: uuid.New(), DisplayName: "Alice"}
	r := newRouter(staticAuth{token: "good", principal: p})

	tests := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"bearer header", "/whoami", "Bearer good", http.StatusOK},
		{"query token", "/whoami?token=good", "", http.StatusOK},
		{"missing", "/whoami", "", http.StatusUnauthorized},
		{"wrong scheme", "/whoami", "Basic good", http.StatusUnauthorized},
		{"bad token", "/whoami?token=bad", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, p.UserID.String(), w.Body.String())
			}
		})
	}
}
