package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
)

// configuredPINActor is recorded as the approver when the MANAGER_PIN
// from configuration, rather than a staff account, unlocks an override.
const configuredPINActor = "manager-pin"

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	now        func() time.Time
}

type UserStore interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

type tillbookClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN != "" {
		hashed, err := hashPassword(managerPIN)
		if err == nil {
			managerPIN = hashed
		} else {
			managerPIN = ""
		}
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
		userStore:  userStore,
		now:        time.Now,
	}
}

// Login exchanges a staff username and PIN for a signed access token.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	account, found, err := a.findUser(ctx, req.Username)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !found || !verifyPassword(account.PINHash, req.PIN) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account.Username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &tillbookClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if !knownRole(claims.Role) {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := tillbookClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tillbook",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateManagerPIN returns the approver for pin: the configured manager
// PIN, or the PIN of an active manager or admin account.
func (a *AuthManager) ValidateManagerPIN(ctx context.Context, pin string) (domain.Actor, bool) {
	input := strings.TrimSpace(pin)
	if input == "" {
		return domain.Actor{}, false
	}
	if verifyPassword(a.managerPIN, input) {
		return domain.Actor{Username: configuredPINActor, Role: domain.RoleManager}, true
	}
	if a.userStore == nil {
		return domain.Actor{}, false
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return domain.Actor{}, false
	}
	for _, user := range users {
		if !user.Active || (user.Role != domain.RoleManager && user.Role != domain.RoleAdmin) {
			continue
		}
		if verifyPassword(user.PINHash, input) {
			return domain.Actor{Username: user.Username, Role: user.Role}, true
		}
	}
	return domain.Actor{}, false
}

func (a *AuthManager) findUser(ctx context.Context, username string) (domain.UserAccount, bool, error) {
	if a.userStore == nil {
		return domain.UserAccount{}, false, nil
	}
	wanted := strings.ToLower(strings.TrimSpace(username))
	if wanted == "" {
		return domain.UserAccount{}, false, nil
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, false, err
	}
	for _, user := range users {
		if strings.ToLower(strings.TrimSpace(user.Username)) == wanted {
			return user, true, nil
		}
	}
	return domain.UserAccount{}, false, nil
}

func knownRole(role string) bool {
	switch role {
	case domain.RoleCashier, domain.RoleManager, domain.RoleAdmin:
		return true
	}
	return false
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
