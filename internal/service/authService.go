package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Receives every login attempt, successful or not
type LoginRecorder interface {
	Record(ctx context.Context, attempt *models.LoginAttempt)
}

type AuthService struct {
	users     UserStore
	attempts  LoginRecorder
	jwtSecret []byte // Stored in env (JWT_SECRET)
	jwtExpiry time.Duration
	cost      int
	now       func() time.Time
}

func NewAuthService(users UserStore, attempts LoginRecorder, secret string, expiryHours int) (*AuthService, error) {
	if secret == "" {
		return nil, config.ErrMissingJWTSecret
	}

	return &AuthService{
		users:     users,
		attempts:  attempts,
		jwtSecret: []byte(secret),
		jwtExpiry: time.Duration(expiryHours) * time.Hour,
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
	}, nil
}

type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// Identity carried by a bearer token
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Creates a user. Role defaults to staff.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)

	role := in.Role
	if role == "" {
		role = models.RoleStaff
	}
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	existingUser, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existingUser != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Name:         in.Name,
		Role:         role,
		Status:       models.UserStatusActive,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticates a user and returns a signed token. Every call is recorded as
// a login attempt; only rejected credentials carry a failure reason.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (string, *models.User, error) {
	email := normalizeEmail(in.Email)

	attempt := &models.LoginAttempt{
		Email:     email,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		// No verdict, so no failure reason: kept out of failure counts
		s.attempts.Record(ctx, attempt)
		return "", nil, fmt.Errorf("failed to look up user: %w", err)
	}

	reason, loginErr := s.verify(user, in.Password)
	if user != nil {
		attempt.UserID = &user.ID
	}
	if loginErr != nil {
		attempt.FailureReason = &reason
		s.attempts.Record(ctx, attempt)
		return "", nil, loginErr
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, err
	}

	attempt.Success = true
	s.attempts.Record(ctx, attempt)

	return token, user, nil
}

func (s *AuthService) verify(user *models.User, password string) (models.FailureReason, error) {
	if user == nil {
		return models.FailureInvalidEmail, ErrInvalidCredentials
	}

	switch user.Status {
	case models.UserStatusLocked:
		return models.FailureAccountLocked, ErrAccountLocked
	case models.UserStatusDisabled:
		return models.FailureAccountDisabled, ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.FailureInvalidPassword, ErrInvalidCredentials
	}
	return "", nil
}

func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// Validates a JWT token and returns its claims
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}
