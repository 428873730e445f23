package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nexora/backend/internal/cache"
	"nexora/backend/internal/domain"
	"nexora/backend/internal/store"
	"nexora/backend/internal/xid"
)

var errInvalidToken = errors.New("invalid or expired token")

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	denylist  cache.TokenDenylist
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	FindUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	FindUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, userID string, password string) error
}

type storefrontClaims struct {
	jwtlib.RegisteredClaims
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session is a verified access token.
type Session struct {
	Identity  domain.Identity
	TokenID   string
	ExpiresAt time.Time
}

// NewAuthManager builds the token issuer. denylist may be nil, in which case
// logout cannot revoke tokens before they expire.
func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, denylist cache.TokenDenylist) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		denylist:  denylist,
	}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := domain.Validate(req); err != nil {
		return domain.AuthResponse{}, fmt.Errorf("%w: name, a valid email and a password of at least 6 characters are required", store.ErrInvalidRequest)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.AuthResponse{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		ID:        xid.New("usr"),
		Name:      req.Name,
		Email:     req.Email,
		Password:  passwordHash,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.userStore.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.AuthResponse{}, domain.ErrEmailTaken
		}
		return domain.AuthResponse{}, err
	}

	return a.issue(user.Identity())
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	user, err := a.userStore.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AuthResponse{}, domain.ErrInvalidCredentials
		}
		return domain.AuthResponse{}, err
	}

	if !isPasswordHash(user.Password) {
		// Accounts imported from the old storefront kept plain-text passwords.
		// Accept them once and upgrade to bcrypt.
		if !plainPasswordMatches(user.Password, req.Password) {
			return domain.AuthResponse{}, domain.ErrInvalidCredentials
		}
		a.upgradePassword(ctx, user.ID, req.Password)
	} else if !verifyPassword(user.Password, req.Password) {
		return domain.AuthResponse{}, domain.ErrInvalidCredentials
	}

	return a.issue(user.Identity())
}

func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (Session, error) {
	claims := &storefrontClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return Session{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return Session{}, errors.New("invalid token subject")
	}

	if a.denylist != nil {
		revoked, err := a.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Session{}, errInvalidToken
		}
	}

	return Session{
		Identity:  domain.Identity{UserID: sub, Name: claims.Name, Email: claims.Email},
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke denylists the session's token for the rest of its lifetime.
func (a *AuthManager) Revoke(ctx context.Context, session Session) error {
	if a.denylist == nil {
		return nil
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return a.denylist.Revoke(ctx, session.TokenID, ttl)
}

// CurrentIdentity reloads the account behind a session so profile changes
// show up without a new token.
func (a *AuthManager) CurrentIdentity(ctx context.Context, session Session) (domain.Identity, error) {
	user, err := a.userStore.FindUserByID(ctx, session.Identity.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Identity{}, domain.ErrNotAuthenticated
		}
		return domain.Identity{}, err
	}
	return user.Identity(), nil
}

func (a *AuthManager) issue(identity domain.Identity) (domain.AuthResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(identity, expiresAt)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return domain.AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        identity,
	}, nil
}

func (a *AuthManager) sign(identity domain.Identity, expiresAt time.Time) (string, error) {
	claims := storefrontClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   identity.UserID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "nexora",
		},
		Name:  identity.Name,
		Email: identity.Email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) upgradePassword(ctx context.Context, userID string, plain string) {
	hashed, err := hashPassword(plain)
	if err != nil {
		return
	}
	if err := a.userStore.UpdateUserPassword(ctx, userID, hashed); err != nil {
		log.Printf("[auth] WARN: failed to upgrade legacy password user=%s: %v", userID, err)
	}
}

func plainPasswordMatches(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
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
