package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, "cloudpilot-test", time.Hour)
	require.NoError(t, err)
	return m
}

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestNewJWTManager_Validation(t *testing.T) {
	_, err := NewJWTManager("short", "cloudpilot", time.Hour)
	assert.Error(t, err)

	_, err = NewJWTManager(testSecret, "cloudpilot", 0)
	assert.Error(t, err)
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, expires, err := m.GenerateToken(ctx, "ops", []string{PermissionExecute, PermissionRead})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := m.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Username)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "cloudpilot-test", claims.Issuer)
	assert.True(t, claims.HasPermission(PermissionExecute))
	assert.False(t, claims.HasPermission(PermissionApprove))
}

func TestJWTManager_Rejects(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	t.Run("expired", func(t *testing.T) {
		m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := m.GenerateToken(ctx, "ops", nil)
		m.now = time.Now
		require.NoError(t, err)

		_, err = m.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewJWTManager(strings.Repeat("x", 32), "cloudpilot-test", time.Hour)
		require.NoError(t, err)
		token, _, err := other.GenerateToken(ctx, "ops", nil)
		require.NoError(t, err)

		_, err = m.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewJWTManager(testSecret, "someone-else", time.Hour)
		require.NoError(t, err)
		token, _, err := other.GenerateToken(ctx, "ops", nil)
		require.NoError(t, err)

		_, err = m.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "ops"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = m.ValidateToken(ctx, signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.ValidateToken(ctx, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestClaims_Wildcard(t *testing.T) {
	c := &Claims{Permissions: []string{PermissionAll}}
	assert.True(t, c.HasPermission(PermissionAudit))
	assert.True(t, c.HasPermission(PermissionApprove))
}

func TestUserStore(t *testing.T) {
	store, err := NewUserStore([]User{
		{Username: "ops", PasswordHash: testHash(t, "s3cret"), Permissions: []string{PermissionExecute}},
		{Username: " auditor ", PasswordHash: testHash(t, "audit"), Permissions: []string{PermissionAudit}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []string{"auditor", "ops"}, store.Usernames())

	u, err := store.Authenticate("ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, []string{PermissionExecute}, u.Permissions)

	_, err = store.Authenticate("ops", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.Authenticate("nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.Authenticate("auditor", "audit")
	assert.NoError(t, err)
}

func TestNewUserStore_Errors(t *testing.T) {
	hash := testHash(t, "pw")
	tests := []struct {
		name  string
		users []User
	}{
		{"empty name", []User{{Username: " ", PasswordHash: hash}}},
		{"duplicate", []User{{Username: "ops", PasswordHash: hash}, {Username: "ops", PasswordHash: hash}}},
		{"plain password", []User{{Username: "ops", PasswordHash: "pw"}}},
		{"unknown permission", []User{{Username: "ops", PasswordHash: hash, Permissions: []string{"root"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUserStore(tt.users)
			assert.Error(t, err)
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)
	mw := NewMiddleware(m, zerolog.Nop())

	router := gin.New()
	router.GET("/audit", mw.RequireAuth(), RequirePermission(PermissionAudit), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !assert.True(t, ok) {
			return
		}
		c.String(http.StatusOK, claims.Username)
	})

	auditor, _, err := m.GenerateToken(context.Background(), "auditor", []string{PermissionAudit})
	require.NoError(t, err)
	reader, _, err := m.GenerateToken(context.Background(), "reader", []string{PermissionRead})
	require.NoError(t, err)

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"no token", "/audit", "", http.StatusUnauthorized, "Missing"},
		{"malformed header", "/audit", "Token " + auditor, http.StatusUnauthorized, "Missing"},
		{"invalid token", "/audit", "Bearer nope", http.StatusUnauthorized, "Invalid or expired"},
		{"missing permission", "/audit", "Bearer " + reader, http.StatusForbidden, PermissionAudit},
		{"allowed", "/audit", "Bearer " + auditor, http.StatusOK, "auditor"},
		{"lowercase scheme", "/audit", "bearer " + auditor, http.StatusOK, "auditor"},
		{"query token", "/audit?access_token=" + auditor, "", http.StatusOK, "auditor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestRequirePermission_WithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/x", RequirePermission(PermissionRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
