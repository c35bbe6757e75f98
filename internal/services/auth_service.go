package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
)

// RegisterInput is the payload of a sign-up.
type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	Role         domain.Role
	ReferralCode string
}

// Session is a user together with freshly issued tokens.
type Session struct {
	User   *domain.User   `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

// AuthService registers users and exchanges credentials for tokens.
type AuthService struct {
	DB        *gorm.DB
	Tokens    *auth.Manager
	Referrals *ReferralService
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

var nameCaser = cases.Title(language.BrazilianPortuguese)

// Register creates an account. Professionals also get their rating row and
// every user starts with an empty credit balance. A referral code, when
// given, is redeemed in the same transaction.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Register",
		trace.WithAttributes(attribute.String("role", string(in.Role))))
	defer span.End()

	name := strings.Join(strings.Fields(in.Name), " ")
	email := strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case name == "" || utf8.RuneCountInString(name) > 120:
		return nil, badRequest("name must have 1 to 120 characters")
	case !validEmail(email):
		return nil, badRequest("invalid email")
	case utf8.RuneCountInString(in.Password) < 8 || len(in.Password) > 72:
		return nil, badRequest("password must have 8 to 72 bytes")
	}
	role := in.Role
	if role == "" {
		role = domain.RoleClient
	}
	if role != domain.RoleClient && role != domain.RoleProfessional {
		return nil, badRequest("role must be client or professional")
	}

	cost := s.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), cost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Name:         nameCaser.String(name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	const attempts = 5
	for i := 0; i < attempts; i++ {
		if u.ReferralCode, err = NewReferralCode(); err != nil {
			return nil, err
		}
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repo.GetUserByEmail(ctx, tx, email); err == nil {
				return ErrEmailTaken
			} else if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			if err := repo.CreateUser(ctx, tx, u); err != nil {
				return err
			}
			if role == domain.RoleProfessional {
				if err := repo.CreateProfessional(ctx, tx, u.ID); err != nil {
					return err
				}
			}
			if err := repo.EnsureCreditBalance(ctx, tx, u.ID); err != nil {
				return err
			}
			if in.ReferralCode != "" && s.Referrals != nil {
				if _, err := s.Referrals.redeem(ctx, tx, u.ID, in.ReferralCode); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			break
		}
		if !repo.IsDuplicate(err) {
			return nil, err
		}
		// either the email raced in or the referral code collided
		if _, gerr := repo.GetUserByEmail(ctx, s.DB, email); gerr == nil {
			return nil, ErrEmailTaken
		}
	}
	if err != nil {
		return nil, newErr(KindConflict, "could not allocate a referral code")
	}
	return s.session(u)
}

// Login checks credentials and issues tokens.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	u, err := repo.GetUserByEmail(ctx, s.DB, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// Refresh trades a refresh token for a new pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Refresh")
	defer span.End()

	id, err := s.Tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, newErr(KindUnauthorized, err.Error())
	}
	u, err := repo.GetUser(ctx, s.DB, id.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newErr(KindUnauthorized, "account no longer exists")
	}
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

// Me returns the user behind an authenticated request.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *AuthService) session(u *domain.User) (*Session, error) {
	pair, err := s.Tokens.Issue(auth.Identity{UserID: u.ID, Role: u.Role})
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Tokens: pair}, nil
}

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}
