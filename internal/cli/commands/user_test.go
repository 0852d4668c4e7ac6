package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/testhelpers"
)

func TestRunUserCreate(t *testing.T) {
	db := testhelpers.NewDB(t)
	ctx := context.Background()

	var out bytes.Buffer
	err := runUserCreate(ctx, db, &out, createUserOptions{
		Username: "admin",
		Email:    "Admin@Example.com",
		Password: "hunter22",
		Admin:    true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Created user admin")

	var user models.User
	require.NoError(t, db.Where("username = ?", "admin").First(&user).Error)
	assert.True(t, user.IsAdmin)
	assert.Equal(t, "admin@example.com", user.Email)

	local := auth.NewLocalStrategy(db, config.StrategyConfig{Name: "Local", Protocol: config.ProtocolLocal})
	loggedIn, err := local.Login(ctx, "admin", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)
}

func TestRunUserCreate_Duplicate(t *testing.T) {
	db := testhelpers.NewDB(t)
	ctx := context.Background()
	opts := createUserOptions{Username: "alice", Email: "alice@example.com", Password: "secret"}

	require.NoError(t, runUserCreate(ctx, db, &bytes.Buffer{}, opts))

	err := runUserCreate(ctx, db, &bytes.Buffer{}, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrDuplicateUser)
}

func TestRunUserListAndDelete(t *testing.T) {
	db := testhelpers.NewDB(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runUserList(ctx, db, &out))
	assert.Contains(t, out.String(), "No users found")

	require.NoError(t, runUserCreate(ctx, db, &bytes.Buffer{}, createUserOptions{
		Username: "bob", Email: "bob@example.com", Password: "secret",
	}))

	out.Reset()
	require.NoError(t, runUserList(ctx, db, &out))
	assert.Contains(t, out.String(), "bob@example.com")
	assert.Contains(t, out.String(), config.LocalStrategy)

	out.Reset()
	require.NoError(t, runUserDelete(ctx, db, &out, "bob"))
	assert.Contains(t, out.String(), "Deleted user bob")

	var users, passports int64
	db.Model(&models.User{}).Count(&users)
	db.Model(&models.Passport{}).Count(&passports)
	assert.Zero(t, users)
	assert.Zero(t, passports)

	err := runUserDelete(ctx, db, &out, "bob")
	assert.ErrorContains(t, err, "not found")
}

func TestRunProviders(t *testing.T) {
	strategies := config.Strategies{
		config.LocalStrategy: {Name: "Local", Protocol: config.ProtocolLocal},
		"github":             {Name: "GitHub", Protocol: config.ProtocolOAuth2},
	}

	var out bytes.Buffer
	require.NoError(t, runProviders(&out, strategies))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[1]), "/auth/github")
	assert.Contains(t, string(lines[2]), "/login")
}
