package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"taskmaster/internal/model"
	"taskmaster/pkg/rbac"
	"taskmaster/pkg/util"
)

var (
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the persistence contract the auth service runs against.
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Service handles registration, sign-in and token resolution. Auth-change
// observers are notified with the signed-in identity, or nil on sign-out.
type Service struct {
	users     UserStore
	jwtSecret string
	logger    *zap.Logger

	mu        sync.Mutex
	observers []func(*model.Identity)
}

func NewService(users UserStore, jwtSecret string, logger *zap.Logger) *Service {
	return &Service{
		users:     users,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// OnAuthChange registers an observer for sign-in and sign-out events.
func (s *Service) OnAuthChange(fn func(*model.Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Service) notify(identity *model.Identity) {
	s.mu.Lock()
	observers := append([]func(*model.Identity){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(identity)
	}
}

// Register creates a new user.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*model.User, error) {
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           model.NewID(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         rbac.RoleUser,
		CreatedAt:    time.Now(),
	}

	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", u.ID))
	return u, nil
}

// SignIn checks credentials and returns a JWT plus the acting identity.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, model.Identity, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", model.Identity{}, ErrInvalidCredentials
	}

	if !util.CheckPassword(password, u.PasswordHash) {
		return "", model.Identity{}, ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(u.ID, s.jwtSecret)
	if err != nil {
		return "", model.Identity{}, err
	}

	identity := u.Identity()
	s.notify(&identity)
	s.logger.Info("User signed in", zap.String("user_id", u.ID))
	return token, identity, nil
}

// SignOut notifies observers that the user's session ended. Tokens are
// stateless; they simply age out.
func (s *Service) SignOut(identity model.Identity) {
	s.logger.Info("User signed out", zap.String("user_id", identity.ID))
	s.notify(nil)
}

// IdentityFromToken resolves a bearer token to the acting identity.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (model.Identity, error) {
	userID, err := util.ParseJWT(token, s.jwtSecret)
	if err != nil {
		return model.Identity{}, ErrInvalidToken
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.Identity{}, ErrInvalidToken
	}
	return u.Identity(), nil
}
