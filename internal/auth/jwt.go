package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "sunspec-gateway"

var errTokenInvalid = errors.New("token invalid")

type JWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTHandler signs and verifies HS256 access tokens.
type JWTHandler struct {
	key []byte
	ttl time.Duration
}

func NewJWTHandler(secret string, ttl time.Duration) *JWTHandler {
	return &JWTHandler{key: []byte(secret), ttl: ttl}
}

// GenerateAccessToken returns a signed token for username and its expiry.
// Each token carries a fresh id.
func (j *JWTHandler) GenerateAccessToken(username, role string) (string, time.Time, error) {
	issued := time.Now()
	expires := issued.Add(j.ttl)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(j.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (j *JWTHandler) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
	}
	return j.key, nil
}

// ValidateAccessToken checks signature, expiry and issuer.
func (j *JWTHandler) ValidateAccessToken(raw string) (*JWTClaims, error) {
	var claims JWTClaims
	token, err := jwt.ParseWithClaims(raw, &claims, j.keyFunc, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errTokenInvalid
	}
	return &claims, nil
}
