// Package auth signs people in and out. Accounts carry a role profile, and
// sessions are HS256 tokens that name the profile they belong to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/aditya/campus-rides/internal/cache"
	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/repository"
)

// Identity is a signed-in profile together with its session token.
type Identity struct {
	Profile   *models.Profile
	Token     string
	ExpiresAt time.Time
}

// Claims are carried by session tokens.
type Claims struct {
	Role  models.Role `json:"role"`
	Email string      `json:"email"`
	jwt.RegisteredClaims
}

// FederatedClaims are carried by identity assertions from the campus sign-in
// provider.
type FederatedClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type Service interface {
	SignUp(ctx context.Context, req *models.SignUpRequest) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	// SignInFederated trusts a provider-signed assertion and creates the
	// profile on first sign-in using roleHint, which defaults to student.
	SignInFederated(ctx context.Context, assertion string, roleHint models.Role) (*Identity, error)
	Verify(ctx context.Context, token string) (*Identity, error)
	SignOut(ctx context.Context, token string) error
}

type Config struct {
	Secret          string
	FederatedSecret string
	// When set, federated assertions must carry this iss and aud.
	FederatedIssuer   string
	FederatedAudience string
	TokenTTL          time.Duration
	Issuer            string
}

type service struct {
	users    repository.UserRepository
	revoked  cache.RevocationList
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(users repository.UserRepository, revoked cache.RevocationList, cfg Config, logger *slog.Logger) Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "campus-rides"
	}
	if revoked == nil {
		revoked = cache.NewMemoryRevocationList()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		users:    users,
		revoked:  revoked,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger,
	}
}

func (s *service) SignUp(ctx context.Context, req *models.SignUpRequest) (*Identity, error) {
	const op = "auth.SignUp"

	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validation(op, signUpMessage(err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s: hash password: %w", op, err)
	}
	hashStr := string(hash)

	profile := &models.Profile{
		Email:        req.Email,
		Name:         req.Name,
		Role:         req.Role,
		IsVerified:   req.Role == models.RoleStudent,
		PasswordHash: &hashStr,
	}
	if req.Vehicle != "" {
		profile.Vehicle = &req.Vehicle
	}
	if req.Phone != "" {
		profile.Phone = &req.Phone
	}

	if err := s.users.Create(ctx, profile); err != nil {
		if errors.Is(err, apperrors.ErrEmailTaken) {
			return nil, apperrors.Auth(op, err)
		}
		return nil, apperrors.StoreWrite(op, err)
	}

	s.logger.Info("account created", "user_id", profile.ID, "role", profile.Role, "verified", profile.IsVerified)
	return s.issue(profile)
}

func (s *service) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	const op = "auth.SignIn"

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperrors.Validation(op, "Please fill in all fields")
	}

	profile, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if profile == nil || profile.PasswordHash == nil {
		return nil, apperrors.Auth(op, apperrors.ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*profile.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.Auth(op, apperrors.ErrInvalidCredentials)
	}

	return s.issue(profile)
}

func (s *service) SignInFederated(ctx context.Context, assertion string, roleHint models.Role) (*Identity, error) {
	const op = "auth.SignInFederated"

	if s.cfg.FederatedSecret == "" {
		return nil, apperrors.Auth(op, errors.New("federated sign-in is not configured"))
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.cfg.FederatedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.FederatedIssuer))
	}
	if s.cfg.FederatedAudience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.FederatedAudience))
	}

	var claims FederatedClaims
	_, err := jwt.ParseWithClaims(assertion, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.FederatedSecret), nil
	}, opts...)
	if err != nil {
		return nil, apperrors.Auth(op, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err))
	}
	if claims.Email == "" {
		return nil, apperrors.Auth(op, fmt.Errorf("%w: assertion has no email", apperrors.ErrUnauthorized))
	}

	profile, err := s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return s.issue(profile)
	}

	if !roleHint.IsValid() {
		roleHint = models.RoleStudent
	}
	profile = &models.Profile{
		Email:      claims.Email,
		Name:       claims.Name,
		Role:       roleHint,
		IsVerified: roleHint == models.RoleStudent,
	}
	if err := s.users.Create(ctx, profile); err != nil {
		if errors.Is(err, apperrors.ErrEmailTaken) {
			// Lost a race with a concurrent first sign-in.
			existing, getErr := s.users.GetByEmail(ctx, claims.Email)
			if getErr == nil && existing != nil {
				return s.issue(existing)
			}
		}
		return nil, apperrors.StoreWrite(op, err)
	}

	s.logger.Info("account created from federated sign-in", "user_id", profile.ID, "role", profile.Role, "subject", claims.Subject)
	return s.issue(profile)
}

func (s *service) Verify(ctx context.Context, token string) (*Identity, error) {
	const op = "auth.Verify"

	claims, err := s.parse(token)
	if err != nil {
		return nil, apperrors.Auth(op, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err))
	}

	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperrors.Auth(op, fmt.Errorf("%w: session signed out", apperrors.ErrUnauthorized))
	}

	// Reload so a driver verified after sign-in is seen as verified.
	profile, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.Auth(op, fmt.Errorf("%w: account no longer exists", apperrors.ErrUnauthorized))
	}

	return &Identity{Profile: profile, Token: token, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (s *service) SignOut(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		// Nothing to revoke for a token that no longer verifies.
		return nil
	}
	return s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

func (s *service) issue(profile *models.Profile) (*Identity, error) {
	now := s.now()
	expires := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		Role:  profile.Role,
		Email: profile.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   profile.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Identity{Profile: profile, Token: signed, ExpiresAt: expires}, nil
}

func (s *service) parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func signUpMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	switch {
	case fe.Tag() == "required":
		return "Please fill in all fields"
	case fe.Field() == "Email":
		return "Please enter a valid email address"
	case fe.Field() == "Password":
		return "Password must be between 6 and 72 characters"
	case fe.Field() == "Role":
		return "Role must be student or driver"
	default:
		return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
}
