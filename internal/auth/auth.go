package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/adlaunch/backend/internal/audit"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/models"
)

// Common errors
var (
	ErrInvalidRegistration = errors.New("email and password of at least 8 characters required")
	ErrMissingCredentials  = errors.New("missing email or password")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailExists         = errors.New("email already registered")
	ErrPasswordTooLong     = errors.New("password must be at most 72 bytes")
	ErrMissingToken        = errors.New("missing token")
	ErrInvalidToken        = errors.New("invalid or expired token")
)

const (
	MinPasswordLength = 8
	// bcrypt only accepts this many bytes
	MaxPasswordBytes = 72
)

// Claims carried by every session token
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	ClientID uuid.UUID `json:"client_id"`
	Role     string    `json:"role"`
	Email    string    `json:"email"`
	jwt.RegisteredClaims
}

// Session is what register and login hand back
type Session struct {
	Token  string  `json:"token"`
	Claims *Claims `json:"-"`
}

type Config struct {
	JWTSecret  string
	TokenTTL   time.Duration // defaults to 7 days
	BcryptCost int           // defaults to bcrypt.DefaultCost (10)
}

// Service handles registration, login and token verification
type Service struct {
	db         *gorm.DB
	audit      *audit.Logger
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	dummyHash  []byte
}

func NewService(db *gorm.DB, cfg Config, auditLog *audit.Logger) *Service {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	// Compared against when the email is unknown so both failure paths cost a bcrypt round.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cfg.BcryptCost)

	return &Service{
		db:         db,
		audit:      auditLog,
		jwtSecret:  []byte(cfg.JWTSecret),
		tokenTTL:   cfg.TokenTTL,
		bcryptCost: cfg.BcryptCost,
		dummyHash:  dummy,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// defaultClientName picks the tenant name when the caller gave none.
func defaultClientName(clientName, email string) string {
	if name := strings.TrimSpace(clientName); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(email, "@"); local != "" {
		return local
	}
	return "Client"
}

// Register creates a user, its tenant and the membership in one transaction.
func (s *Service) Register(ctx context.Context, email, password, clientName string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || utf8.RuneCountInString(password) < MinPasswordLength {
		return nil, ErrInvalidRegistration
	}
	if len(password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	db := s.db.WithContext(ctx)

	var existing int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleClient,
	}
	client := &models.Client{
		ID:       uuid.New(),
		Name:     defaultClientName(clientName, email),
		Plan:     models.PlanSingle,
		IsActive: true,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if err := tx.Create(client).Error; err != nil {
			return err
		}
		return tx.Create(&models.UserClient{UserID: user.ID, ClientID: client.ID}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.audit.Log(ctx, &audit.LogEntry{
		ClientID: &client.ID,
		UserID:   &user.ID,
		Action:   models.ActionRegister,
	})

	log := logger.FromContext(ctx)
	log.Info().Str("user_id", user.ID.String()).Str("client_id", client.ID.String()).Msg("Account registered")

	return s.newSession(user, client.ID)
}

// Login never reveals whether the email or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	var membership models.UserClient
	if err := db.Where("user_id = ?", user.ID).Order("created_at ASC").First(&membership).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	s.audit.Log(ctx, &audit.LogEntry{
		ClientID: &membership.ClientID,
		UserID:   &user.ID,
		Action:   models.ActionLogin,
	})

	return s.newSession(&user, membership.ClientID)
}

func (s *Service) newSession(user *models.User, clientID uuid.UUID) (*Session, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID,
		ClientID: clientID,
		Role:     user.Role,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: token, Claims: claims}, nil
}

// ValidateToken checks signature, algorithm and expiry.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil || claims.ClientID == uuid.Nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
