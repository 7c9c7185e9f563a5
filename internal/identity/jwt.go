package identity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teleswap/exchange-desk/internal/domain"
)

// AuthenticatorConfig contains JWT settings.
type AuthenticatorConfig struct {
	SecretKey     string
	TokenDuration time.Duration
}

// Authenticator issues and validates session tokens. The subject claim
// is the telegram user id.
type Authenticator struct {
	config AuthenticatorConfig
}

// NewAuthenticator creates a new JWT authenticator.
func NewAuthenticator(config AuthenticatorConfig) *Authenticator {
	return &Authenticator{config: config}
}

type sessionClaims struct {
	Role     string `json:"role"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed session token for the user.
func (a *Authenticator) GenerateToken(user *domain.User) (string, error) {
	now := time.Now()

	claims := sessionClaims{
		Role:     string(user.Role),
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(a.config.SecretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a session token and returns the user id and role.
func (a *Authenticator) ParseToken(tokenString string) (int64, domain.Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.SecretKey), nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return 0, "", ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}

	role := domain.Role(claims.Role)
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}

	return userID, role, nil
}
