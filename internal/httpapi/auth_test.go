package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
)

type userStoreStub struct {
	users []domain.UserAccount
	err   error
	calls int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.users, nil
}

func mustHashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newStaffStore(t *testing.T) *userStoreStub {
	return &userStoreStub{users: []domain.UserAccount{
		{Username: "dina", PINHash: mustHashPIN(t, "4821"), Role: domain.RoleCashier, Active: true},
		{Username: "marco", PINHash: mustHashPIN(t, "5930"), Role: domain.RoleManager, Active: true},
		{Username: "olga", PINHash: mustHashPIN(t, "6047"), Role: domain.RoleManager, Active: false},
		{Username: "root", PINHash: mustHashPIN(t, "7158"), Role: domain.RoleAdmin, Active: true},
	}}
}

func TestLoginAndParseToken(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "", newStaffStore(t))

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: " Dina ", PIN: "4821"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCashier, resp.Role)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "dina", Role: domain.RoleCashier}, actor)
}

func TestLoginFailures(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "", newStaffStore(t))

	_, err := auth.Login(context.Background(), domain.LoginRequest{Username: "dina", PIN: "0000"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "nobody", PIN: "4821"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "olga", PIN: "6047"})
	assert.ErrorIs(t, err, errInactiveAccount)

	broken := NewAuthManager("test-secret", time.Hour, "", &userStoreStub{err: errors.New("db down")})
	_, err = broken.Login(context.Background(), domain.LoginRequest{Username: "dina", PIN: "4821"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errInvalidCredentials)
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "", nil)
	other := NewAuthManager("other-secret", time.Hour, "", nil)

	token, err := other.sign("dina", domain.RoleCashier, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(token)
	assert.Error(t, err)

	expired, err := auth.sign("dina", domain.RoleCashier, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)

	unknownRole, err := auth.sign("dina", "owner", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(unknownRole)
	assert.Error(t, err)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "654321", nil)
	assert.NotEqual(t, "654321", auth.managerPIN)
	assert.True(t, isPasswordHash(auth.managerPIN))

	approver, ok := auth.ValidateManagerPIN(context.Background(), "654321")
	require.True(t, ok)
	assert.Equal(t, configuredPINActor, approver.Username)

	_, ok = auth.ValidateManagerPIN(context.Background(), "111111")
	assert.False(t, ok)
}

func TestValidateManagerPINAcceptsManagerAccounts(t *testing.T) {
	auth := NewAuthManager("test-secret", time.Hour, "", newStaffStore(t))
	ctx := context.Background()

	approver, ok := auth.ValidateManagerPIN(ctx, "5930")
	require.True(t, ok)
	assert.Equal(t, domain.Actor{Username: "marco", Role: domain.RoleManager}, approver)

	approver, ok = auth.ValidateManagerPIN(ctx, "7158")
	require.True(t, ok)
	assert.Equal(t, "root", approver.Username)

	for _, pin := range []string{"4821", "6047", "", "   "} {
		_, ok = auth.ValidateManagerPIN(ctx, pin)
		assert.False(t, ok, "pin %q", pin)
	}
}
