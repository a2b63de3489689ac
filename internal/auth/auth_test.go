package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func cheapHasher() *PasswordHasher {
	return &PasswordHasher{params: argonParams{memory: 1024, time: 1, threads: 1}, saltLen: 16, keyLen: 32}
}

type recordedEvent struct {
	eventType string
	success   bool
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (r *eventRecorder) LogAuthEvent(_ context.Context, eventType, _, _ string, success bool, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, success})
	return r.err
}

func newTestService(t *testing.T, events EventLogger) *AuthService {
	t.Helper()
	hash, err := cheapHasher().HashPassword("s3cret")
	require.NoError(t, err)

	a, err := NewAuthService(config.AuthConfig{
		AccessTokenTTL:         time.Hour,
		AdminUser:              "admin",
		AdminPasswordHash:      hash,
		MaxFailedLoginAttempts: 3,
		AccountLockDuration:    time.Minute,
	}, events, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestPasswordHasher(t *testing.T) {
	h := cheapHasher()
	hash, err := h.HashPassword("hunter2")
	require.NoError(t, err)
	assert.Regexp(t, `^\$argon2id\$v=19\$m=1024,t=1,p=1\$`, hash)

	ok, err := NewPasswordHasher().VerifyPassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok, "parameters come from the hash")

	ok, err = h.VerifyPassword("hunter3", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.VerifyPassword("x", "$bcrypt$nope")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWTHandler("test-secret-test-secret-test-secret", time.Minute)
	token, expiresAt, err := j.GenerateAccessToken("admin", RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := j.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.NotEmpty(t, claims.ID)

	_, err = NewJWTHandler("another-secret", time.Minute).ValidateAccessToken(token)
	assert.Error(t, err)

	expired := NewJWTHandler("test-secret-test-secret-test-secret", -time.Minute)
	old, _, err := expired.GenerateAccessToken("admin", RoleAdmin)
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(old)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	events := &eventRecorder{}
	a := newTestService(t, events)

	token, _, err := a.Login(context.Background(), "admin", "s3cret", "127.0.0.1")
	require.NoError(t, err)
	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	_, _, err = a.Login(context.Background(), "root", "s3cret", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Equal(t, []recordedEvent{{"login_success", true}, {"login_failed", false}}, events.events)
}

func TestLoginLockout(t *testing.T) {
	a := newTestService(t, nil)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for range 3 {
		_, _, err := a.Login(context.Background(), "admin", "wrong", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, _, err := a.Login(context.Background(), "admin", "s3cret", "")
	assert.ErrorIs(t, err, ErrAccountLocked, "correct password is refused while locked")

	now = now.Add(time.Minute + time.Second)
	_, _, err = a.Login(context.Background(), "admin", "s3cret", "")
	assert.NoError(t, err)
}

func TestLoginDisabledWithoutPassword(t *testing.T) {
	a, err := NewAuthService(config.AuthConfig{AdminUser: "admin", AccessTokenTTL: time.Hour}, nil, zap.NewNop())
	require.NoError(t, err)

	_, _, err = a.Login(context.Background(), "admin", "", "")
	assert.ErrorIs(t, err, ErrLoginDisabled)
}

func TestEventLoggerErrorIsNotFatal(t *testing.T) {
	a := newTestService(t, &eventRecorder{err: errors.New("db down")})
	_, _, err := a.Login(context.Background(), "admin", "s3cret", "")
	assert.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestService(t, nil)

	r := gin.New()
	r.GET("/protected", a.AuthMiddleware(), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUsername))
	})

	token, _, err := a.Login(context.Background(), "admin", "s3cret", "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	viewer, _, err := a.jwtHandler.GenerateAccessToken("guest", "viewer")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
