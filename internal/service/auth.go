package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/store"
)

// keyPrefix is the fixed human-recognizable prefix on every API key secret.
const keyPrefix = "tl_"

// touchTimeout bounds the fire-and-forget last-used write so a slow store
// cannot pile up goroutines.
const touchTimeout = 5 * time.Second

// SessionPrincipal is the identity carried by a session token on the
// interactive (non-API-key) path.
type SessionPrincipal struct {
	UserID int64
	Email  string
}

// AuthService issues and verifies API keys, and handles the interactive
// login path (password check plus session tokens).
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
	logger    *slog.Logger
}

// NewAuthService creates an AuthService backed by the given store.
func NewAuthService(st *store.Store, jwtSecret string, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
}

// IssueAPIKey generates a new API key for the user: 32 bytes of entropy,
// hex encoded behind the "tl_" prefix. Only the SHA-256 hash is persisted;
// the plaintext is returned exactly once. A zero ttl means no expiry; a
// non-nil workspaceID binds the key to that single workspace.
func (s *AuthService) IssueAPIKey(ctx context.Context, userID int64, label string, scopes model.ScopeList, ttl time.Duration, workspaceID *int64) (string, *model.APIKey, error) {
	if len(scopes) == 0 {
		return "", nil, fmt.Errorf("at least one scope is required")
	}
	for _, sc := range scopes {
		if !model.ValidScope(sc) {
			return "", nil, fmt.Errorf("unknown scope %q", sc)
		}
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, fmt.Errorf("user %d not found", userID)
		}
		return "", nil, fmt.Errorf("validate key owner: %w", err)
	}

	if workspaceID != nil {
		if _, err := s.store.GetWorkspace(ctx, *workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", nil, fmt.Errorf("workspace %d not found", *workspaceID)
			}
			return "", nil, fmt.Errorf("validate workspace binding: %w", err)
		}
	}

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("generate random key: %w", err)
	}
	plaintext := keyPrefix + hex.EncodeToString(randomBytes)

	key := &model.APIKey{
		UserID:      userID,
		KeyHash:     store.HashAPIKey(plaintext),
		KeyPrefix:   plaintext[:len(keyPrefix)+8],
		Label:       label,
		Scopes:      scopes,
		WorkspaceID: workspaceID,
	}
	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		key.ExpiresAt = &expires
	}

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}
	return plaintext, key, nil
}

// VerifyAPIKey resolves a raw bearer secret to a Principal. Hash misses,
// revoked keys, and expired keys all fail with ErrInvalidCredential. The
// owner's entitlement is checked against their current plan, not the plan
// at issuance. The last-used timestamp is updated in the background and
// never blocks or fails the request.
func (s *AuthService) VerifyAPIKey(ctx context.Context, secret string) (*model.Principal, error) {
	hash := store.HashAPIKey(secret)

	key, err := s.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		s.logger.Error("api key lookup failed", "error", err)
		return nil, fmt.Errorf("lookup api key: %w", ErrUpstream)
	}

	if !key.UsableAt(time.Now()) {
		return nil, ErrInvalidCredential
	}

	owner, err := s.store.GetUser(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		s.logger.Error("key owner lookup failed", "error", err, "user_id", key.UserID)
		return nil, fmt.Errorf("lookup key owner: %w", ErrUpstream)
	}
	if !owner.IsActive {
		return nil, ErrInvalidCredential
	}
	if !owner.Plan.HasAPIAccess() {
		return nil, ErrFeatureLocked
	}

	// Update last used (fire and forget). Failure is logged and ignored;
	// it must never delay or fail the caller's request.
	go func(keyID int64) {
		tctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := s.store.TouchAPIKeyLastUsed(tctx, keyID); err != nil {
			s.logger.Warn("failed to update key last-used", "key_id", keyID, "error", err)
		}
	}(key.ID)

	return &model.Principal{
		UserID:      key.UserID,
		KeyID:       key.ID,
		Plan:        owner.Plan,
		Scopes:      key.Scopes,
		WorkspaceID: key.WorkspaceID,
	}, nil
}

// RevokeAPIKey soft-revokes a key. Idempotent; repeat calls keep the
// original revocation timestamp.
func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID int64) error {
	return s.store.RevokeAPIKey(ctx, keyID)
}

// DeleteAPIKey removes a key record entirely, erasing its audit trail.
// Idempotent.
func (s *AuthService) DeleteAPIKey(ctx context.Context, keyID int64) error {
	return s.store.DeleteAPIKey(ctx, keyID)
}

// ---------------------------------------------------------------------------
// Interactive login path
// ---------------------------------------------------------------------------

// VerifyLogin checks an email/password pair against the stored bcrypt hash.
// Missing users, disabled accounts, and wrong passwords are all reported as
// ErrInvalidCredential so the response does not leak which part failed.
func (s *AuthService) VerifyLogin(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		s.logger.Error("user lookup failed", "error", err)
		return nil, fmt.Errorf("lookup user: %w", ErrUpstream)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return user, nil
}

// IssueSessionToken creates a signed session JWT for an interactively
// authenticated user.
func (s *AuthService) IssueSessionToken(userID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "tasklane",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateSessionToken verifies a session JWT and returns the identity it
// carries.
func (s *AuthService) ValidateSessionToken(tokenStr string) (*SessionPrincipal, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}
	return &SessionPrincipal{UserID: claims.UserID, Email: claims.Email}, nil
}

type sessionClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// HashPassword returns the bcrypt hash of a password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
