package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// maxPasswordLength is the most bcrypt will hash.
const maxPasswordLength = 72

type Credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session is what a successful register or login returns.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// Service registers and logs in users. Without Tokens it can still create
// users but cannot log anyone in.
type Service struct {
	repo   *Repository
	tokens *Tokens
	logger *zap.Logger
	cost   int

	// dummyHash is compared against when the email is unknown so that
	// login takes as long for unknown emails as for wrong passwords.
	dummyHash func() []byte
}

type Option func(*Service)

// WithCost sets the bcrypt cost. Tests lower it to bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

func NewService(repo *Repository, tokens *Tokens, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{repo: repo, tokens: tokens, logger: logger, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}

	s.dummyHash = sync.OnceValue(func() []byte {
		hash, err := bcrypt.GenerateFromPassword([]byte("retailsaga"), s.cost)
		if err != nil {
			s.logger.Error("failed to hash dummy password", zap.Error(err))
		}
		return hash
	})
	return s
}

// Register creates a customer account and returns a session for it.
func (s *Service) Register(ctx context.Context, c Credentials) (Session, error) {
	u, err := s.CreateUser(ctx, c, RoleCustomer)
	if err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// CreateUser creates an account with the given role without logging in.
func (s *Service) CreateUser(ctx context.Context, c Credentials, role Role) (User, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = normalizeEmail(c.Email)
	if c.Name == "" || c.Email == "" || c.Password == "" {
		return User{}, fmt.Errorf("%w: name, email and password are required", ErrInvalidRequest)
	}
	if !strings.Contains(c.Email, "@") {
		return User{}, fmt.Errorf("%w: email %q is not valid", ErrInvalidRequest, c.Email)
	}
	if len(c.Password) > maxPasswordLength {
		return User{}, fmt.Errorf("%w: password is longer than %d bytes", ErrInvalidRequest, maxPasswordLength)
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.CreateUser(ctx, User{Name: c.Name, Email: c.Email, Role: role}, hash)
	if err != nil {
		return User{}, err
	}

	s.logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// Login checks the password for email. Unknown emails and wrong passwords
// both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, c Credentials) (Session, error) {
	email := normalizeEmail(c.Email)
	if email == "" || c.Password == "" {
		return Session{}, fmt.Errorf("%w: email and password are required", ErrInvalidRequest)
	}

	u, hash, err := s.repo.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return Session{}, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(c.Password))
		return Session{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(c.Password)); err != nil {
		s.logger.Debug("login rejected", zap.Int64("user_id", u.ID))
		return Session{}, ErrInvalidCredentials
	}
	return s.session(u)
}

// Authenticate verifies a bearer token.
func (s *Service) Authenticate(token string) (Principal, error) {
	if s.tokens == nil {
		return Principal{}, fmt.Errorf("%w: token verification is not configured", ErrInvalidToken)
	}
	return s.tokens.Verify(token)
}

func (s *Service) session(u User) (Session, error) {
	if s.tokens == nil {
		return Session{}, errors.New("token issuing is not configured")
	}
	token, expires, err := s.tokens.Issue(principalOf(u))
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: u}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
