package auth

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/testhelpers"
)

func newTestLocal(t *testing.T) *LocalStrategy {
	t.Helper()
	return NewLocalStrategy(testhelpers.NewDB(t), config.StrategyConfig{Name: "Local", Protocol: config.ProtocolLocal})
}

func registerParams(username, email, password string) url.Values {
	return url.Values{
		"username": {username},
		"email":    {email},
		"password": {password},
	}
}

func TestLocalStrategy_RegisterAndLogin(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	user, err := local.Register(ctx, registerParams("alice", "Alice@Example.com", "wonderland"))
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)

	var passport models.Passport
	require.NoError(t, local.db.Where("user_id = ?", user.ID).First(&passport).Error)
	assert.Equal(t, config.ProtocolLocal, passport.Protocol)
	assert.Equal(t, user.ID, passport.Identifier)
	assert.NotEqual(t, "wonderland", passport.PasswordHash)

	tests := []struct {
		name       string
		identifier string
		password   string
		wantErr    error
	}{
		{name: "by username", identifier: "alice", password: "wonderland"},
		{name: "by email", identifier: "ALICE@example.com", password: "wonderland"},
		{name: "wrong password", identifier: "alice", password: "nope", wantErr: ErrWrongPassword},
		{name: "unknown user", identifier: "bob", password: "wonderland", wantErr: ErrUnknownIdentifier},
		{name: "missing identifier", identifier: " ", password: "wonderland", wantErr: ErrMissingIdentifier},
		{name: "missing password", identifier: "alice", password: "", wantErr: ErrEmptyPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := local.Login(ctx, tt.identifier, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
		})
	}
}

func TestLocalStrategy_RegisterDuplicate(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	_, err := local.Register(ctx, registerParams("alice", "alice@example.com", "pw"))
	require.NoError(t, err)

	_, err = local.Register(ctx, registerParams("alice2", "alice@example.com", "pw"))
	assert.ErrorIs(t, err, ErrDuplicateUser)

	_, err = local.Register(ctx, registerParams("alice", "other@example.com", "pw"))
	assert.ErrorIs(t, err, ErrDuplicateUser)

	var count int64
	local.db.Model(&models.User{}).Count(&count)
	assert.Equal(t, int64(1), count, "failed registrations must not leave users behind")
}

func TestLocalStrategy_Connect(t *testing.T) {
	local := newTestLocal(t)
	ctx := context.Background()

	user := &models.User{Username: "carol", Email: "carol@example.com"}
	require.NoError(t, local.db.Create(user).Error)

	_, err := local.Login(ctx, "carol", "pw")
	assert.ErrorIs(t, err, ErrNoPassword)

	_, err = local.Connect(ctx, user.ID, "pw")
	require.NoError(t, err)

	_, err = local.Login(ctx, "carol", "pw")
	assert.NoError(t, err)

	_, err = local.Connect(ctx, user.ID, "other")
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}
