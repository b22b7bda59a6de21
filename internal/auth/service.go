package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/liquidchat-server/internal/store"
)

var (
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownUser is returned when a valid token references no account.
	ErrUnknownUser = errors.New("unknown user")
	// ErrInvalidUsername is returned when a username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when a password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrUserExists is returned when the username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// Identity is the result of a successful token verification.
type Identity struct {
	UserID   string
	Username string
}

// Service verifies bearer tokens against the user directory and issues
// tokens for the dev CLI. The signup/login surface proper lives outside
// this server.
type Service struct {
	users     store.UserDirectory
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(users store.UserDirectory, jwtConfig *JWTConfig) *Service {
	return &Service{users: users, jwtConfig: jwtConfig}
}

// Verify validates the token and confirms the account still exists.
func (s *Service) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := s.users.UserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &Identity{UserID: user.ID, Username: user.Username}, nil
}

// IssueToken signs a token for an existing user, looked up by username.
func (s *Service) IssueToken(ctx context.Context, username string) (string, error) {
	user, err := s.users.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnknownUser
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	return GenerateToken(s.jwtConfig, user.ID, user.Username)
}

// CreateUser creates an account with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, username, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	if existing, err := s.users.UserByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUserExists
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
