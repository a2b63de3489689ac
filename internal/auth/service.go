package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"go.uber.org/zap"
)

const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrLoginDisabled      = errors.New("login disabled: no admin password configured")
)

// EventLogger records auth events. *storage.PostgresClient implements it.
type EventLogger interface {
	LogAuthEvent(ctx context.Context, eventType, username, ipAddress string, success bool, reason string) error
}

// AuthService guards the setup and reboot endpoints with a single admin
// account.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	events         EventLogger
	logger         *zap.Logger

	adminUser    string
	adminHash    string
	maxFailed    int
	lockDuration time.Duration

	mu          sync.Mutex
	failed      int
	lockedUntil time.Time
	now         func() time.Time
}

// NewAuthService resolves the admin password hash. A configured hash wins;
// otherwise the plaintext from the environment is hashed once at startup.
// With neither, logins fail with ErrLoginDisabled. events may be nil.
func NewAuthService(cfg config.AuthConfig, events EventLogger, logger *zap.Logger) (*AuthService, error) {
	a := &AuthService{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		events:         events,
		logger:         logger,
		adminUser:      cfg.AdminUser,
		adminHash:      cfg.AdminPasswordHash,
		maxFailed:      cfg.MaxFailedLoginAttempts,
		lockDuration:   cfg.AccountLockDuration,
		now:            time.Now,
	}

	if a.adminHash == "" {
		if pw := cfg.AdminPassword(); pw != "" {
			hash, err := a.passwordHasher.HashPassword(pw)
			if err != nil {
				return nil, fmt.Errorf("failed to hash admin password: %w", err)
			}
			a.adminHash = hash
		}
	}

	if a.adminHash == "" {
		logger.Warn("No admin password configured, setup and reboot are disabled")
	}
	if !cfg.IsProductionReady() {
		logger.Warn("Using development JWT secret")
	}

	return a, nil
}

// Login checks the admin credentials and returns a signed access token.
// After maxFailed consecutive failures the account is locked for
// lockDuration.
func (a *AuthService) Login(ctx context.Context, username, password, ipAddress string) (string, time.Time, error) {
	if a.adminHash == "" {
		return "", time.Time{}, ErrLoginDisabled
	}

	a.mu.Lock()
	if a.now().Before(a.lockedUntil) {
		until := a.lockedUntil
		a.mu.Unlock()
		a.logAuthEvent(ctx, "login_failed", username, ipAddress, false, "account locked")
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}
	a.mu.Unlock()

	valid := false
	if username == a.adminUser {
		ok, err := a.passwordHasher.VerifyPassword(password, a.adminHash)
		if err != nil {
			a.logger.Error("Admin password hash unusable", zap.Error(err))
		}
		valid = ok
	}

	if !valid {
		a.recordFailure()
		a.logAuthEvent(ctx, "login_failed", username, ipAddress, false, "invalid credentials")
		return "", time.Time{}, ErrInvalidCredentials
	}

	a.mu.Lock()
	a.failed = 0
	a.lockedUntil = time.Time{}
	a.mu.Unlock()

	token, expiresAt, err := a.jwtHandler.GenerateAccessToken(username, RoleAdmin)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logAuthEvent(ctx, "login_success", username, ipAddress, true, "")
	return token, expiresAt, nil
}

func (a *AuthService) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failed++
	if a.maxFailed > 0 && a.failed >= a.maxFailed {
		a.lockedUntil = a.now().Add(a.lockDuration)
		a.failed = 0
		a.logger.Warn("Admin account locked",
			zap.Int("max_failed_attempts", a.maxFailed),
			zap.Duration("duration", a.lockDuration))
	}
}

// ValidateToken parses a bearer token.
func (a *AuthService) ValidateToken(token string) (*JWTClaims, error) {
	return a.jwtHandler.ValidateAccessToken(token)
}

// LogEvent records a protected action performed by username.
func (a *AuthService) LogEvent(ctx context.Context, eventType, username, ipAddress string) {
	a.logAuthEvent(ctx, eventType, username, ipAddress, true, "")
}

func (a *AuthService) logAuthEvent(ctx context.Context, eventType, username, ip string, success bool, reason string) {
	if a.events == nil {
		return
	}
	if err := a.events.LogAuthEvent(ctx, eventType, username, ip, success, reason); err != nil {
		a.logger.Warn("Failed to log auth event", zap.String("event", eventType), zap.Error(err))
	}
}
