package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped into and required from every access token.
const Issuer = "openarmcore"

// OperatorClaims identify who commands the arm. The audience is the robot
// the token was issued for, so a token from one cell is refused by another.
type OperatorClaims struct {
	UserID   uuid.UUID `json:"uid"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies operator access tokens for one robot.
type TokenSigner struct {
	key        []byte
	robot      string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenSigner(secret, robot string, accessTTL, refreshTTL time.Duration) *TokenSigner {
	return &TokenSigner{
		key:        []byte(secret),
		robot:      robot,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *TokenSigner) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenSigner) RefreshTTL() time.Duration { return s.refreshTTL }

// Sign issues an access token for user.
func (s *TokenSigner) Sign(user *User) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	if s.robot != "" {
		claims.Audience = jwt.ClaimStrings{s.robot}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign access token for %s: %w", user.Username, err)
	}
	return signed, nil
}

// Verify checks signature, issuer, expiry and, when the signer is bound to a
// robot, the audience.
func (s *TokenSigner) Verify(token string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	}
	if s.robot != "" {
		opts = append(opts, jwt.WithAudience(s.robot))
	}

	claims := &OperatorClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}
	return claims, nil
}

// newRefreshSecret returns an opaque refresh token. Only its hash is kept.
func newRefreshSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
