package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Pseudo:    "Admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyAdminStore()

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	require.NoError(t, err)
	assert.Equal(t, "Admin", resp.Pseudo)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	assert.Positive(t, store.updates)
}

func TestLoginRejectsWrongPasswordAndInactiveAccounts(t *testing.T) {
	store := legacyAdminStore()
	store.users["seller"] = domain.UserAccount{Username: "seller", Password: "seller123", Role: domain.RoleSeller}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "admin123"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "seller", Password: "seller123"})
	require.ErrorIs(t, err, ErrInactiveAccount)
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "Fatou",
		Pseudo:   "Fatou S.",
		Password: "pass1234",
	})
	require.NoError(t, err)
	assert.Equal(t, "fatou", user.Username)
	assert.Equal(t, domain.RoleSeller, user.Role)

	stored := store.users["fatou"]
	assert.NotEqual(t, "pass1234", stored.Password)
	assert.True(t, strings.HasPrefix(stored.Password, "$2"))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "fatou", Password: "pass1234"})
	require.NoError(t, err)
	assert.Equal(t, "Fatou S.", resp.Pseudo)

	usernames := make([]string, 0)
	for _, u := range manager.ListUsers(context.Background()) {
		usernames = append(usernames, u.Username)
	}
	assert.Equal(t, []string{"admin", "fatou"}, usernames)
}

func TestCreateUserValidation(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, legacyAdminStore())

	tests := []domain.UserCreateRequest{
		{Username: "ab", Password: "pass1234"},
		{Username: "with space", Password: "pass1234"},
		{Username: "valid", Password: "123"},
		{Username: "valid", Password: "pass1234", Role: "owner"},
		{Username: "admin", Password: "pass1234"},
	}
	for _, req := range tests {
		_, err := manager.CreateUser(context.Background(), req)
		require.ErrorIs(t, err, domain.ErrValidation, "request %+v", req)
	}
}

func TestParseTokenRoundTripAndRejections(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, legacyAdminStore())
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Pseudo: "Admin", Role: domain.RoleAdmin}, actor)

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, nil)
	_, err = other.ParseToken(resp.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	require.ErrorIs(t, err, ErrInvalidToken)

	manager.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }
	expired, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	_, err = manager.ParseToken(expired.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
