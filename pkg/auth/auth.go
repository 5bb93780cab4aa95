package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/kioskshop/pkg/apperrors"
	"github.com/example/kioskshop/pkg/config"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/repository"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

// IdentityCache keeps resolved identities between requests.
// RedisRepository implements it.
type IdentityCache interface {
	CacheIdentity(ctx context.Context, identity *repository.IdentityCache) error
	GetIdentity(ctx context.Context, userID string) (*repository.IdentityCache, error)
	DropIdentity(ctx context.Context, userID string) error
}

type Service struct {
	db       *gorm.DB
	cache    IdentityCache
	cfg      config.AuthConfig
	logger   *zap.Logger
	hashCost int
	now      func() time.Time
}

// NewService builds the auth service. cache may be nil.
func NewService(db *gorm.DB, cache IdentityCache, cfg config.AuthConfig, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.Named("auth"),
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Name     string         `json:"name"`
	Phone    string         `json:"phone"`
	Password string         `json:"password"`
	Country  models.Country `json:"country"`
}

func (in *RegisterInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	switch {
	case in.Name == "":
		return apperrors.ErrValidation("name is required")
	case in.Phone == "":
		return apperrors.ErrValidation("phone is required")
	case len(in.Password) < minPasswordLength:
		return apperrors.ErrValidation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case !in.Country.IsValid():
		return apperrors.ErrValidation("country must be Iraq or Syria")
	}
	return nil
}

type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.register(ctx, in, models.RoleUser)
}

// RegisterAdmin creates another administrator. Only an administrator may
// call it; the first one is created out of band.
func (s *Service) RegisterAdmin(ctx context.Context, caller models.CurrentUser, in RegisterInput) (*models.User, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can register administrators")
	}
	return s.register(ctx, in, models.RoleAdmin)
}

// BootstrapAdmin creates the administrator with in's phone, or promotes the
// existing account and resets its password. It has no caller check and is
// meant for the seed command only.
func (s *Service) BootstrapAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var existing models.User
	err := s.db.WithContext(ctx).First(&existing, "phone = ?", in.Phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.register(ctx, in, models.RoleAdmin)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	err = s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"role":          models.RoleAdmin,
		"password_hash": string(hash),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to promote user: %w", err)
	}
	existing.Role = models.RoleAdmin
	existing.PasswordHash = string(hash)

	// the role changed, so the cached identity is stale
	if s.cache != nil {
		if err := s.cache.DropIdentity(ctx, existing.ID); err != nil {
			s.logger.Warn("Identity cache drop failed", zap.Error(err))
		}
	}

	s.logger.Info("User promoted to administrator", zap.String("user_id", existing.ID))
	return &existing, nil
}

func (s *Service) register(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	var taken int64
	if err := db.Model(&models.User{}).Where("phone = ?", in.Phone).Count(&taken).Error; err != nil {
		return nil, fmt.Errorf("failed to check phone: %w", err)
	}
	if taken > 0 {
		return nil, apperrors.ErrConflict("phone number is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Name:         in.Name,
		Phone:        in.Phone,
		PasswordHash: string(hash),
		Country:      in.Country,
		Role:         role,
	}
	// the count above can race another registration; the unique index decides
	if err := db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.ErrConflict("phone number is already registered")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID),
		zap.String("role", string(role)))
	return user, nil
}

func (s *Service) Login(ctx context.Context, phone, password string) (*Session, error) {
	user, err := s.verifyPassword(ctx, phone, password)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// AdminLogin is Login restricted to administrators.
func (s *Service) AdminLogin(ctx context.Context, phone, password string) (*Session, error) {
	user, err := s.verifyPassword(ctx, phone, password)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, apperrors.ErrForbidden("administrator access required")
	}
	return s.issue(user)
}

func (s *Service) verifyPassword(ctx context.Context, phone, password string) (*models.User, error) {
	invalid := apperrors.ErrUnauthorized("invalid phone or password")

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "phone = ?", strings.TrimSpace(phone)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, invalid
	}
	return &user, nil
}

func (s *Service) issue(user *models.User) (*Session, error) {
	token, expiresAt, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// IssueToken signs an HS256 bearer token for user.
func (s *Service) IssueToken(user *models.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := t.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Authenticate resolves a bearer token to the caller's identity. The role
// comes from the stored user, not from the token.
func (s *Service) Authenticate(ctx context.Context, raw string) (models.CurrentUser, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || c.Subject == "" {
		return models.CurrentUser{}, apperrors.ErrUnauthorized("invalid or expired token")
	}

	if s.cache != nil {
		cached, err := s.cache.GetIdentity(ctx, c.Subject)
		if err == nil {
			return models.CurrentUser{
				ID:      cached.ID,
				Name:    cached.Name,
				Phone:   cached.Phone,
				Country: models.Country(cached.Country),
				Role:    models.Role(cached.Role),
			}, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("Identity cache read failed", zap.Error(err))
		}
	}

	var user models.User
	err = s.db.WithContext(ctx).Select("id", "name", "phone", "country", "role").
		First(&user, "id = ?", c.Subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CurrentUser{}, apperrors.ErrUnauthorized("account no longer exists")
	}
	if err != nil {
		return models.CurrentUser{}, fmt.Errorf("failed to load user: %w", err)
	}

	identity := user.Identity()
	if s.cache != nil {
		err := s.cache.CacheIdentity(ctx, &repository.IdentityCache{
			ID:      identity.ID,
			Name:    identity.Name,
			Phone:   identity.Phone,
			Country: string(identity.Country),
			Role:    string(identity.Role),
		})
		if err != nil {
			s.logger.Warn("Identity cache write failed", zap.Error(err))
		}
	}
	return identity, nil
}

// Profile returns the caller's stored record with fresh money fields.
func (s *Service) Profile(ctx context.Context, caller models.CurrentUser) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", caller.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound("user").WithDetail("id", caller.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &user, nil
}

func (s *Service) ListUsers(ctx context.Context, caller models.CurrentUser) ([]models.User, error) {
	if !caller.IsAdmin() {
		return nil, apperrors.ErrForbidden("only administrators can list users")
	}
	users := make([]models.User, 0)
	if err := s.db.WithContext(ctx).Order("created_at desc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
