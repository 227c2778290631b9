// Package auth issues and verifies bearer tokens. A token is an HS256 JWT
// whose jti is the ID of a server-side auth session, so logging out revokes it
// before it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/examhall/examhall/internal/evaluator"
	"github.com/examhall/examhall/internal/model"
	"github.com/examhall/examhall/internal/store"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 8 * time.Hour
	issuer     = "examhall"
)

var (
	ErrInvalidCredentials = evaluator.NewError(evaluator.KindUnauthorized, "invalid username or password", nil)
	ErrInvalidToken       = evaluator.NewError(evaluator.KindUnauthorized, "invalid or expired token", nil)
	ErrMissingToken       = evaluator.NewError(evaluator.KindUnauthorized, "missing bearer token", nil)
)

// Store is what authentication reads and writes.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	ListRoles(ctx context.Context, userID string) ([]model.RoleGrant, error)
	CreateAuthSession(ctx context.Context, userID string, ttl time.Duration) (*store.AuthSession, error)
	GetAuthSession(ctx context.Context, id string) (*store.AuthSession, error)
	DeleteAuthSession(ctx context.Context, id string) error
}

// Claims are the JWT claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

// Service authenticates users.
type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
}

// New creates a Service signing tokens with secret. A non-positive ttl uses DefaultTTL.
func New(st Store, secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: st, secret: []byte(secret), ttl: ttl}, nil
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, evaluator.NewError(evaluator.KindDependencyFailure, "load user", err)
	}
	if user == nil || !user.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := s.store.CreateAuthSession(ctx, user.ID, s.ttl)
	if err != nil {
		return nil, evaluator.NewError(evaluator.KindDependencyFailure, "create auth session", err)
	}
	signed, err := s.sign(user.ID, sess)
	if err != nil {
		return nil, evaluator.NewError(evaluator.KindDependencyFailure, "sign token", err)
	}
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)
	return &Token{AccessToken: signed, ExpiresAt: sess.ExpiresAt, UserID: user.ID}, nil
}

func (s *Service) sign(userID string, sess *store.AuthSession) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ID:        sess.ID,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies the token signature, issuer and expiry.
func (s *Service) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	c, ok := token.Claims.(*Claims)
	if !ok || c.Subject == "" || c.ID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

// Authenticate resolves a token to the caller it was issued to, with the
// caller's current role grants.
func (s *Service) Authenticate(ctx context.Context, tokenStr string) (model.CallerIdentity, error) {
	claims, err := s.Parse(tokenStr)
	if err != nil {
		return model.CallerIdentity{}, err
	}
	sess, err := s.store.GetAuthSession(ctx, claims.ID)
	if err != nil {
		return model.CallerIdentity{}, evaluator.NewError(evaluator.KindDependencyFailure, "load auth session", err)
	}
	if sess == nil || sess.UserID != claims.Subject {
		return model.CallerIdentity{}, ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return model.CallerIdentity{}, evaluator.NewError(evaluator.KindDependencyFailure, "load user", err)
	}
	if user == nil || !user.Active {
		return model.CallerIdentity{}, ErrInvalidToken
	}
	roles, err := s.store.ListRoles(ctx, user.ID)
	if err != nil {
		return model.CallerIdentity{}, evaluator.NewError(evaluator.KindDependencyFailure, "load roles", err)
	}
	return model.CallerIdentity{UserID: user.ID, Roles: roles}, nil
}

// Logout revokes the token's auth session.
func (s *Service) Logout(ctx context.Context, tokenStr string) error {
	claims, err := s.Parse(tokenStr)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAuthSession(ctx, claims.ID); err != nil {
		return evaluator.NewError(evaluator.KindDependencyFailure, "delete auth session", err)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// Middleware authenticates every request. On success the caller is stored in
// the request context; otherwise fail is called and the chain stops.
func (s *Service) Middleware(fail func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				fail(w, r, ErrMissingToken)
				return
			}
			caller, err := s.Authenticate(r.Context(), tok)
			if err != nil {
				if evaluator.KindOf(err) == evaluator.KindDependencyFailure {
					slog.Error("authentication failed", "error", err)
				}
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(model.ContextWithCaller(r.Context(), caller)))
		})
	}
}
