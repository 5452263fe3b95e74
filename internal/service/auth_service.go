package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"neobank/internal/config"
	"neobank/internal/model"
	"neobank/internal/repository"
	"neobank/pkg/idgen"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength    = 6
	accountNumberRetries = 5
)

// AuthService owns signup, login and token verification. It is the
// identity collaborator the banking operations trust.
type AuthService struct {
	accountRepo *repository.AccountRepository
	cfg         *config.AuthConfig
	log         *logrus.Logger
	now         func() time.Time
}

func NewAuthService(accountRepo *repository.AccountRepository, cfg *config.AuthConfig, log *logrus.Logger) *AuthService {
	return &AuthService{
		accountRepo: accountRepo,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// Register creates an account with a zero balance.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, newError(ErrCodeInvalidInput, "name is required", nil)
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	if len(req.Password) < minPasswordLength {
		return nil, newError(ErrCodeInvalidInput,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength), nil)
	}

	if _, err := s.accountRepo.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, persistenceFailure("failed to check email", err)
	}

	cost := s.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	accountNumber, err := s.newAccountNumber(ctx)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		AccountNumber: accountNumber,
		Email:         email,
		Name:          name,
		PasswordHash:  string(hash),
		Balance:       decimal.Zero,
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, persistenceFailure("failed to create account", err)
	}

	s.log.WithFields(logrus.Fields{
		"account_id":     account.ID,
		"account_number": account.AccountNumber,
	}).Info("account registered")
	return account, nil
}

// Login checks the password and issues a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *model.Account, error) {
	account, err := s.accountRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, persistenceFailure("failed to load account", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(account.ID)
	if err != nil {
		return "", nil, err
	}

	s.log.WithField("account_id", account.ID).Info("account logged in")
	return token, account, nil
}

// IssueToken signs an HS256 token whose subject is the account id.
func (s *AuthService) IssueToken(accountID int64) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(accountID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	})

	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature and expiry and returns the account id.
func (s *AuthService) ParseToken(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return []byte(s.cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, newError(ErrCodeUnauthorized, "invalid token", err)
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, newError(ErrCodeUnauthorized, "invalid token subject", err)
	}
	return accountID, nil
}

// Authenticate resolves a bearer token to the current account state.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*model.Account, error) {
	accountID, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, newError(ErrCodeUnauthorized, "account no longer exists", nil)
		}
		return nil, persistenceFailure("failed to load account", err)
	}
	return account, nil
}

func (s *AuthService) newAccountNumber(ctx context.Context) (string, error) {
	for i := 0; i < accountNumberRetries; i++ {
		number := idgen.GenerateAccountNumber()
		exists, err := s.accountRepo.ExistsByAccountNumber(ctx, number)
		if err != nil {
			return "", persistenceFailure("failed to check account number", err)
		}
		if !exists {
			return number, nil
		}
	}
	return "", persistenceFailure("could not allocate an account number", nil)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", newError(ErrCodeInvalidInput, "a valid email is required", nil)
	}
	return email, nil
}
