package auth

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskmaster/internal/model"
	"taskmaster/pkg/rbac"
)

type memoryUsers struct {
	byEmail map[string]*model.User
	byID    map[string]*model.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		byEmail: make(map[string]*model.User),
		byID:    make(map[string]*model.User),
	}
}

func (m *memoryUsers) CreateUser(ctx context.Context, u *model.User) error {
	m.byEmail[u.Email] = u
	m.byID[u.ID] = u
	return nil
}

func (m *memoryUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, ok := m.byEmail[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *memoryUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func newService() (*Service, *memoryUsers) {
	users := newMemoryUsers()
	return NewService(users, "test-secret", zap.NewNop()), users
}

func TestRegister(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice@example.com", "hunter2hunter2", "Alice")

	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, rbac.RoleUser, u.Role)
	assert.NotEqual(t, "hunter2hunter2", u.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "hunter2hunter2", "Alice")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice@example.com", "different-pass", "Alice Again")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignInAndTokenRoundTrip(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "hunter2hunter2", "Alice")
	require.NoError(t, err)

	token, identity, err := svc.SignIn(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "Alice", identity.DisplayName)

	resolved, err := svc.IdentityFromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, identity, resolved)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice@example.com", "hunter2hunter2", "Alice")
	require.NoError(t, err)

	_, _, err = svc.SignIn(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.SignIn(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIdentityFromBadToken(t *testing.T) {
	svc, _ := newService()

	_, err := svc.IdentityFromToken(context.Background(), "not-a-jwt")

	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthChangeObservers(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	var events []*model.Identity
	svc.OnAuthChange(func(identity *model.Identity) {
		events = append(events, identity)
	})

	_, err := svc.Register(ctx, "alice@example.com", "hunter2hunter2", "Alice")
	require.NoError(t, err)

	_, identity, err := svc.SignIn(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	svc.SignOut(identity)

	require.Len(t, events, 2)
	require.NotNil(t, events[0])
	assert.Equal(t, "alice@example.com", events[0].Email)
	assert.Nil(t, events[1], "sign-out notifies with nil")
}
