package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleswap/exchange-desk/internal/domain"
)

const testBotToken = "123456:test-bot-token"

// mockRepository implements Repository for testing.
type mockRepository struct {
	users     map[int64]*domain.User
	upsertErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{users: make(map[int64]*domain.User)}
}

func (m *mockRepository) UpsertUser(_ context.Context, user *domain.User) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockRepository) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, ErrUserNotFound
}

// signInitData builds a query string signed the way the Telegram client
// signs Mini App launch data.
func signInitData(t *testing.T, botToken string, fields map[string]string) string {
	t.Helper()

	pairs := make([]string, 0, len(fields))
	for key, value := range fields {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))

	values := url.Values{}
	for key, value := range fields {
		values.Set(key, value)
	}
	values.Set("hash", hex.EncodeToString(mac.Sum(nil)))

	return values.Encode()
}

func validInitData(t *testing.T, userID int64, authDate time.Time) string {
	t.Helper()
	return signInitData(t, testBotToken, map[string]string{
		"user":      fmt.Sprintf(`{"id":%d,"first_name":"Alex","username":"alex","language_code":"ru"}`, userID),
		"auth_date": fmt.Sprintf("%d", authDate.Unix()),
		"query_id":  "AAF_test",
	})
}

func newTestService(repo Repository, adminIDs ...int64) *Service {
	auth := NewAuthenticator(AuthenticatorConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		TokenDuration: time.Hour,
	})
	return NewService(repo, auth, ServiceConfig{
		BotToken:    testBotToken,
		InitDataTTL: 24 * time.Hour,
		AdminIDs:    adminIDs,
	})
}

func TestAuthenticate(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	result, err := svc.Authenticate(context.Background(), validInitData(t, 42, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.Token)
	assert.Equal(t, int64(42), result.User.ID)
	assert.Equal(t, "Alex", result.User.FirstName)
	assert.Equal(t, "ru", result.User.LanguageCode)
	assert.Equal(t, domain.RoleUser, result.User.Role)

	stored, ok := repo.users[42]
	require.True(t, ok)
	assert.Equal(t, "alex", stored.Username)
}

func TestAuthenticateAdmin(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, 42)

	result, err := svc.Authenticate(context.Background(), validInitData(t, 42, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, result.User.Role)
}

func TestAuthenticateTamperedData(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	raw := validInitData(t, 42, time.Now())
	tampered := strings.Replace(raw, "alex", "eve", 1)

	_, err := svc.Authenticate(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidInitData)
}

func TestAuthenticateWrongBotToken(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	raw := signInitData(t, "999999:other-token", map[string]string{
		"user":      `{"id":42,"first_name":"Alex"}`,
		"auth_date": fmt.Sprintf("%d", time.Now().Unix()),
	})

	_, err := svc.Authenticate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidInitData)
}

func TestAuthenticateExpired(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	_, err := svc.Authenticate(context.Background(), validInitData(t, 42, time.Now().Add(-48*time.Hour)))
	assert.ErrorIs(t, err, ErrInitDataExpired)
}

func TestAuthenticateMissingHash(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	_, err := svc.Authenticate(context.Background(), "user=%7B%22id%22%3A42%7D&auth_date=1700000000")
	assert.ErrorIs(t, err, ErrInvalidInitData)
}

func TestValidateTokenRoundTrip(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, 7)

	result, err := svc.Authenticate(context.Background(), validInitData(t, 7, time.Now()))
	require.NoError(t, err)

	userID, role, err := svc.ValidateToken(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
	assert.Equal(t, domain.RoleAdmin, role)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)

	_, _, err := svc.ValidateToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsWrongKey(t *testing.T) {
	otherAuth := NewAuthenticator(AuthenticatorConfig{
		SecretKey:     "ffffffffffffffffffffffffffffffff",
		TokenDuration: time.Hour,
	})
	token, err := otherAuth.GenerateToken(&domain.User{ID: 42, Role: domain.RoleUser})
	require.NoError(t, err)

	svc := newTestService(newMockRepository())
	_, _, err = svc.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyInitDataZeroTTLSkipsFreshness(t *testing.T) {
	raw := validInitData(t, 42, time.Now().Add(-1000*time.Hour))

	data, err := VerifyInitData(raw, testBotToken, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), data.User.ID)
}
