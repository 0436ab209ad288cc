package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgbatch/imgbatch/internal/service/auth"
)

// mockTokenService is a controllable auth.TokenService.
type mockTokenService struct {
	ValidateTokenFn func(ctx context.Context, token string) (*auth.Claims, error)
}

func (m *mockTokenService) IssueToken(ctx context.Context, subject string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockTokenService) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	if m.ValidateTokenFn != nil {
		return m.ValidateTokenFn(ctx, token)
	}
	return nil, auth.ErrInvalidToken
}

func TestAuthenticate(t *testing.T) {
	validClaims := &auth.Claims{
		Subject:   "studio-client",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		ID:        uuid.New(),
	}

	tests := []struct {
		name           string
		authHeader     string
		validateErr    error
		expectedStatus int
		expectedErrMsg string
	}{
		{
			name:           "valid_token",
			authHeader:     "Bearer good-token",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing_header",
			authHeader:     "",
			expectedStatus: http.StatusUnauthorized,
			expectedErrMsg: "Authorization header required",
		},
		{
			name:           "malformed_header",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
			expectedErrMsg: "Invalid authorization format",
		},
		{
			name:           "expired_token",
			authHeader:     "Bearer stale-token",
			validateErr:    auth.ErrExpiredToken,
			expectedStatus: http.StatusUnauthorized,
			expectedErrMsg: "Token expired",
		},
		{
			name:           "invalid_token",
			authHeader:     "Bearer bad-token",
			validateErr:    auth.ErrInvalidToken,
			expectedStatus: http.StatusUnauthorized,
			expectedErrMsg: "Invalid token",
		},
		{
			name:           "unexpected_error",
			authHeader:     "Bearer odd-token",
			validateErr:    errors.New("keystore unavailable"),
			expectedStatus: http.StatusInternalServerError,
			expectedErrMsg: "Authentication error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tokens := &mockTokenService{
				ValidateTokenFn: func(ctx context.Context, token string) (*auth.Claims, error) {
					if tc.validateErr != nil {
						return nil, tc.validateErr
					}
					return validClaims, nil
				},
			}

			var gotClient string
			var gotOK bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotClient, gotOK = GetClient(r)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()

			NewAuthMiddleware(tokens).Authenticate(next).ServeHTTP(rec, req)

			require.Equal(t, tc.expectedStatus, rec.Code)
			if tc.expectedStatus == http.StatusOK {
				assert.True(t, gotOK)
				assert.Equal(t, "studio-client", gotClient)
			} else {
				assert.Contains(t, rec.Body.String(), tc.expectedErrMsg)
			}
		})
	}
}

func TestGetClientWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	client, ok := GetClient(req)
	assert.False(t, ok)
	assert.Empty(t, client)
}
