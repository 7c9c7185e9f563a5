// Package identity authenticates Telegram Mini App users and issues
// session tokens.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/teleswap/exchange-desk/internal/domain"
)

// Repository defines storage operations for users.
type Repository interface {
	UpsertUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// ServiceConfig contains identity settings.
type ServiceConfig struct {
	BotToken    string
	InitDataTTL time.Duration
	AdminIDs    []int64
}

// Service implements identity business logic.
type Service struct {
	repo     Repository
	auth     *Authenticator
	config   ServiceConfig
	adminSet map[int64]bool
}

// NewService creates a new identity service.
func NewService(repo Repository, auth *Authenticator, config ServiceConfig) *Service {
	adminSet := make(map[int64]bool, len(config.AdminIDs))
	for _, id := range config.AdminIDs {
		adminSet[id] = true
	}

	return &Service{
		repo:     repo,
		auth:     auth,
		config:   config,
		adminSet: adminSet,
	}
}

// AuthResult is returned on successful authentication.
type AuthResult struct {
	Token string
	User  *domain.User
}

// Authenticate verifies Mini App init data, records the user, and
// issues a session token.
func (s *Service) Authenticate(ctx context.Context, rawInitData string) (*AuthResult, error) {
	data, err := VerifyInitData(rawInitData, s.config.BotToken, s.config.InitDataTTL)
	if err != nil {
		return nil, err
	}

	role := domain.RoleUser
	if s.adminSet[data.User.ID] {
		role = domain.RoleAdmin
	}

	user := &domain.User{
		ID:           data.User.ID,
		FirstName:    data.User.FirstName,
		Username:     data.User.Username,
		LanguageCode: data.User.LanguageCode,
		Role:         role,
	}

	if err := s.repo.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &AuthResult{Token: token, User: user}, nil
}

// GetUser returns the stored profile for a user id.
func (s *Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ValidateToken implements httputil.TokenValidator.
func (s *Service) ValidateToken(_ context.Context, token string) (int64, domain.Role, error) {
	return s.auth.ParseToken(token)
}
