package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	UserID uint64 `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWT signs and verifies HS256 access tokens for one issuer/audience pair.
type JWT struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewJWT(secret, issuer, audience string, ttl time.Duration) *JWT {
	return &JWT{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for iat/exp and for verification.
func (j *JWT) WithClock(now func() time.Time) *JWT {
	j.now = now
	return j
}

// TTL is the access token lifetime.
func (j *JWT) TTL() time.Duration { return j.ttl }

// Sign mints an access token carrying the given identity and a fresh jti.
func (j *JWT) Sign(userID uint64, email, role string) (string, *AccessClaims, error) {
	now := j.now()
	claims := &AccessClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(userID, 10),
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks algorithm, signature, issuer, audience and expiry.
func (j *JWT) Verify(raw string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	claims := &AccessClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid || claims.UserID == 0 {
		return nil, errors.New("token carries no identity")
	}
	return claims, nil
}

// RefreshToken is the raw opaque value handed to the client together with
// its expiry. Only HashRefreshRaw(Raw) is persisted.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// NewRefreshToken returns 48 random bytes hex-encoded, expiring ttl after now.
func NewRefreshToken(now time.Time, ttl time.Duration) (RefreshToken, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return RefreshToken{}, fmt.Errorf("refresh token entropy: %w", err)
	}
	return RefreshToken{Raw: hex.EncodeToString(b), Exp: now.Add(ttl)}, nil
}

// HashRefreshRaw is the lookup key stored in sessions.token_hash.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
