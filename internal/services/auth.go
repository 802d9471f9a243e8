package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/milopalmaerts/Crypto/internal/config"
	"github.com/milopalmaerts/Crypto/internal/models"
	"github.com/milopalmaerts/Crypto/internal/storage"
	"github.com/milopalmaerts/Crypto/pkg/logger"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the JWT payload issued at register and login
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService registers users, checks passwords and issues HS256 tokens
type AuthService struct {
	store  storage.Store
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	log    *logger.Logger
}

// NewAuthService creates a new authentication service backed by store
func NewAuthService(store storage.Store, cfg config.AuthConfig) *AuthService {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		store:  store,
		secret: []byte(cfg.JWTSecret),
		ttl:    ttl,
		cost:   cost,
		now:    time.Now,
		log:    logger.GetLogger().Named("auth"),
	}
}

// Register creates an account and returns a token for it
func (a *AuthService) Register(ctx context.Context, req *models.RegisterRequest) (*models.AuthResponse, error) {
	firstName := strings.TrimSpace(req.FirstName)
	lastName := strings.TrimSpace(req.LastName)
	email := storage.NormalizeEmail(req.Email)
	if firstName == "" || lastName == "" || email == "" || req.Password == "" {
		return nil, models.NewValidationError("All fields are required", "firstName, lastName, email and password must be set")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, models.NewValidationError("Password is too long", "passwords are limited to 72 bytes")
		}
		return nil, models.NewAppErrorWithCause(models.ErrorCodeInternalError, "Failed to hash password", err)
	}

	user := &models.User{
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return nil, models.NewAppError(models.ErrorCodeUserExists, "User already exists with this email")
		}
		return nil, models.NewDatabaseError("Failed to create user", err)
	}

	token, err := a.IssueToken(user)
	if err != nil {
		return nil, err
	}

	a.log.WithContext(ctx).Info("User registered", zap.String("user_id", user.ID))
	return &models.AuthResponse{Message: "User created successfully", Token: token, User: user}, nil
}

// Login verifies credentials and returns a fresh token
func (a *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResponse, error) {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, models.NewValidationError("Email and password are required", "")
	}

	user, err := a.store.FindUserByEmail(ctx, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, models.NewAppError(models.ErrorCodeInvalidCredentials, "Invalid credentials")
	}
	if err != nil {
		return nil, models.NewDatabaseError("Failed to look up user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		a.log.WithContext(ctx).Debug("Password mismatch", zap.String("user_id", user.ID))
		return nil, models.NewAppError(models.ErrorCodeInvalidCredentials, "Invalid credentials")
	}

	token, err := a.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{Message: "Login successful", Token: token, User: user}, nil
}

// IssueToken signs a token for user valid for the configured TTL
func (a *AuthService) IssueToken(user *models.User) (string, error) {
	now := a.now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", models.NewAppErrorWithCause(models.ErrorCodeInternalError, "Failed to sign token", err)
	}
	return signed, nil
}

// ValidateToken parses a bearer token and returns its claims
func (a *AuthService) ValidateToken(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}
	return claims, nil
}
