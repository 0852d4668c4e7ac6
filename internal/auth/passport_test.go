package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/testhelpers"
)

// fakeProvider is an OAuth2 authorization server with a userinfo endpoint
type fakeProvider struct {
	server   *httptest.Server
	userInfo map[string]any
	idToken  string

	lastForm url.Values
}

func newFakeProvider(t *testing.T, userInfo map[string]any) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{userInfo: userInfo}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fp.lastForm = r.PostForm
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		resp := map[string]any{
			"access_token":  "access-123",
			"refresh_token": "refresh-123",
			"token_type":    "Bearer",
			"expires_in":    3600,
		}
		if fp.idToken != "" {
			resp["id_token"] = fp.idToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fp.userInfo)
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) strategyConfig(name, protocol string) config.StrategyConfig {
	return config.StrategyConfig{
		Name:         name,
		Protocol:     protocol,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      fp.server.URL + "/authorize",
		TokenURL:     fp.server.URL + "/token",
		UserInfoURL:  fp.server.URL + "/userinfo",
		Issuer:       fp.server.URL,
	}
}

func newTestPassport(t *testing.T, strategies config.Strategies) *Passport {
	t.Helper()
	p, err := NewPassport(context.Background(), testhelpers.NewDB(t), strategies, "http://auth.test/", testhelpers.NopLogger())
	require.NoError(t, err)
	return p
}

func localOnly() config.Strategies {
	return config.Strategies{
		config.LocalStrategy: {Name: "Local", Protocol: config.ProtocolLocal},
	}
}

func TestPassport_Providers(t *testing.T) {
	fp := newFakeProvider(t, nil)
	strategies := localOnly()
	strategies["gitlab"] = fp.strategyConfig("GitLab", config.ProtocolOAuth2)
	strategies["github"] = fp.strategyConfig("GitHub", config.ProtocolOAuth2)

	p := newTestPassport(t, strategies)

	assert.Equal(t, []ProviderView{
		{Name: "GitHub", Slug: "github"},
		{Name: "GitLab", Slug: "gitlab"},
	}, p.Providers())
	assert.NotNil(t, p.Local())

	assert.Equal(t, config.ProtocolOAuth2, p.strategies["github"].Protocol())
	assert.Equal(t, "http://auth.test/auth/github/callback", p.CallbackURL("github"))
}

func TestPassport_Endpoint(t *testing.T) {
	fp := newFakeProvider(t, nil)
	strategies := localOnly()
	strategies["github"] = fp.strategyConfig("GitHub", config.ProtocolOAuth2)
	p := newTestPassport(t, strategies)

	req, err := p.Endpoint("github")
	require.NoError(t, err)
	assert.NotEmpty(t, req.State)
	assert.NotEmpty(t, req.CodeVerifier)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, req.State, u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, "http://auth.test/auth/github/callback", u.Query().Get("redirect_uri"))

	_, err = p.Endpoint("nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = p.Endpoint(config.LocalStrategy)
	assert.ErrorIs(t, err, ErrNotRedirectable)
}

func TestPassport_Callback_Local(t *testing.T) {
	p := newTestPassport(t, localOnly())
	ctx := context.Background()

	user, err := p.Callback(ctx, config.LocalStrategy, CallbackInput{
		Action: ActionRegister,
		Params: registerParams("dave", "dave@example.com", "pw"),
	})
	require.NoError(t, err)

	for _, field := range []string{"identifier", "email", "username"} {
		value := "dave"
		if field == "email" {
			value = "dave@example.com"
		}
		got, err := p.Callback(ctx, config.LocalStrategy, CallbackInput{
			Params: url.Values{field: {value}, "password": {"pw"}},
		})
		require.NoError(t, err, field)
		assert.Equal(t, user.ID, got.ID)
	}

	_, err = p.Callback(ctx, config.LocalStrategy, CallbackInput{
		Action: ActionConnect,
		Params: url.Values{"password": {"pw"}},
	})
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = p.Callback(ctx, "nope", CallbackInput{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestPassport_Callback_OAuth2(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{
		"id":    float64(4242),
		"login": "octocat",
		"email": "Octo@Example.com",
		"name":  "The Octocat",
	})
	strategies := localOnly()
	strategies["github"] = fp.strategyConfig("GitHub", config.ProtocolOAuth2)
	p := newTestPassport(t, strategies)
	ctx := context.Background()

	req, err := p.Endpoint("github")
	require.NoError(t, err)

	callback := func(params url.Values) (*models.User, error) {
		return p.Callback(ctx, "github", CallbackInput{
			Params:        params,
			ExpectedState: req.State,
			CodeVerifier:  req.CodeVerifier,
		})
	}

	t.Run("provider error", func(t *testing.T) {
		_, err := callback(url.Values{
			"state":             {req.State},
			"error":             {"access_denied"},
			"error_description": {"User cancelled"},
		})
		assert.ErrorIs(t, err, ErrProviderDenied)
		assert.ErrorContains(t, err, "User cancelled")
	})

	t.Run("provider error with forged state", func(t *testing.T) {
		_, err := callback(url.Values{"state": {"forged"}, "error": {"Your account was locked"}})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.NotContains(t, err.Error(), "locked")

		_, err = callback(url.Values{"error": {"access_denied"}})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("state mismatch", func(t *testing.T) {
		_, err := callback(url.Values{"state": {"forged"}, "code": {"good-code"}})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := callback(url.Values{"state": {req.State}})
		assert.ErrorIs(t, err, ErrMissingCode)
	})

	t.Run("exchange failure", func(t *testing.T) {
		_, err := callback(url.Values{"state": {req.State}, "code": {"bad-code"}})
		assert.Error(t, err)
	})

	var first *models.User
	t.Run("creates user", func(t *testing.T) {
		user, err := callback(url.Values{"state": {req.State}, "code": {"good-code"}})
		require.NoError(t, err)
		assert.Equal(t, "octocat", user.Username)
		assert.Equal(t, "octo@example.com", user.Email)
		assert.Equal(t, "http://auth.test/auth/github/callback", fp.lastForm.Get("redirect_uri"))

		var passport models.Passport
		require.NoError(t, p.db.Where("user_id = ?", user.ID).First(&passport).Error)
		assert.Equal(t, "4242", passport.Identifier)
		assert.Equal(t, config.ProtocolOAuth2, passport.Protocol)
		assert.Equal(t, "access-123", passport.AccessToken)
		first = user
	})

	t.Run("returning user", func(t *testing.T) {
		require.NotNil(t, first)
		user, err := callback(url.Values{"state": {req.State}, "code": {"good-code"}})
		require.NoError(t, err)
		assert.Equal(t, first.ID, user.ID)

		var count int64
		p.db.Model(&models.User{}).Count(&count)
		assert.Equal(t, int64(1), count)
	})
}

func TestPassport_Callback_DuplicateEmail(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{
		"sub":   "abc",
		"email": "erin@example.com",
	})
	strategies := localOnly()
	strategies["gitea"] = fp.strategyConfig("Gitea", config.ProtocolOAuth2)
	p := newTestPassport(t, strategies)
	ctx := context.Background()

	_, err := p.Local().Register(ctx, registerParams("erin", "erin@example.com", "pw"))
	require.NoError(t, err)

	_, err = p.Callback(ctx, "gitea", CallbackInput{
		Params:        url.Values{"state": {"s"}, "code": {"good-code"}},
		ExpectedState: "s",
	})
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestPassport_ConnectAndDisconnect(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{
		"sub":                "gl-1",
		"preferred_username": "frank",
	})
	strategies := localOnly()
	strategies["gitlab"] = fp.strategyConfig("GitLab", config.ProtocolOAuth2)
	p := newTestPassport(t, strategies)
	ctx := context.Background()

	user, err := p.Local().Register(ctx, registerParams("frank", "frank@example.com", "pw"))
	require.NoError(t, err)

	// A logged-in user links the provider even without a shared email
	linked, err := p.Callback(ctx, "gitlab", CallbackInput{
		Params:        url.Values{"state": {"s"}, "code": {"good-code"}},
		ExpectedState: "s",
		CurrentUserID: user.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, linked.ID)

	var count int64
	p.db.Model(&models.Passport{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(2), count)

	// The identity stays with frank when someone else tries to link it
	other, err := p.Local().Register(ctx, registerParams("mallory", "mallory@example.com", "pw"))
	require.NoError(t, err)
	_, err = p.Callback(ctx, "gitlab", CallbackInput{
		Action:        ActionConnect,
		Params:        url.Values{"state": {"s"}, "code": {"good-code"}},
		ExpectedState: "s",
		CurrentUserID: other.ID,
	})
	assert.ErrorIs(t, err, ErrIdentityTaken)

	var owner models.Passport
	require.NoError(t, p.db.Where("provider = ? AND identifier = ?", "gitlab", "gl-1").First(&owner).Error)
	assert.Equal(t, user.ID, owner.UserID)

	// Signing in again while already linked keeps the same user
	again, err := p.Callback(ctx, "gitlab", CallbackInput{
		Params:        url.Values{"state": {"s"}, "code": {"good-code"}},
		ExpectedState: "s",
		CurrentUserID: user.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	_, err = p.Callback(ctx, "gitlab", CallbackInput{Action: ActionDisconnect})
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = p.Callback(ctx, "gitlab", CallbackInput{Action: ActionDisconnect, CurrentUserID: user.ID})
	require.NoError(t, err)

	_, err = p.Callback(ctx, "gitlab", CallbackInput{Action: ActionDisconnect, CurrentUserID: user.ID})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = p.Callback(ctx, config.LocalStrategy, CallbackInput{Action: ActionDisconnect, CurrentUserID: user.ID})
	assert.ErrorIs(t, err, ErrLastPassport)
}

func TestPassport_Callback_MissingEmail(t *testing.T) {
	fp := newFakeProvider(t, map[string]any{"sub": "no-mail"})
	strategies := localOnly()
	strategies["gitlab"] = fp.strategyConfig("GitLab", config.ProtocolOAuth2)
	p := newTestPassport(t, strategies)

	_, err := p.Callback(context.Background(), "gitlab", CallbackInput{
		Params:        url.Values{"state": {"s"}, "code": {"good-code"}},
		ExpectedState: "s",
	})
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestPassport_AvailableUsername(t *testing.T) {
	p := newTestPassport(t, localOnly())
	ctx := context.Background()

	_, err := p.Local().Register(ctx, registerParams("grace", "grace@example.com", "pw"))
	require.NoError(t, err)

	assert.Equal(t, "grace-github", p.availableUsername(ctx, &Profile{Username: "grace"}, "github"))
	assert.Equal(t, "hopper", p.availableUsername(ctx, &Profile{Email: "hopper@example.com"}, "github"))
	assert.Equal(t, "github-42", p.availableUsername(ctx, &Profile{Identifier: "42"}, "github"))
}

func TestPassport_Callback_OIDC(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	fp := newFakeProvider(t, nil)
	cfg := fp.strategyConfig("Keycloak", config.ProtocolOIDC)

	now := time.Now()
	idToken := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":                fp.server.URL,
		"aud":                "client-id",
		"sub":                "kc-subject",
		"email":              "heidi@example.com",
		"preferred_username": "heidi",
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
	fp.idToken, err = idToken.SignedString(key)
	require.NoError(t, err)

	verifier := oidc.NewVerifier(fp.server.URL,
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
		&oidc.Config{ClientID: "client-id"})
	strategy := newOIDCStrategy("keycloak", cfg, oauth2.Endpoint{
		AuthURL:  cfg.AuthURL,
		TokenURL: cfg.TokenURL,
	}, verifier)

	p := newTestPassport(t, localOnly())
	p.register(strategy)

	req, err := p.Endpoint("keycloak")
	require.NoError(t, err)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(req.CodeVerifier), u.Query().Get("code_challenge"))
	assert.Contains(t, u.Query().Get("scope"), "openid")

	user, err := p.Callback(context.Background(), "keycloak", CallbackInput{
		Params:        url.Values{"state": {req.State}, "code": {"good-code"}},
		ExpectedState: req.State,
		CodeVerifier:  req.CodeVerifier,
	})
	require.NoError(t, err)
	assert.Equal(t, "heidi", user.Username)
	assert.Equal(t, req.CodeVerifier, fp.lastForm.Get("code_verifier"))

	var passport models.Passport
	require.NoError(t, p.db.Where("user_id = ?", user.ID).First(&passport).Error)
	assert.Equal(t, "kc-subject", passport.Identifier)
	assert.Equal(t, config.ProtocolOIDC, passport.Protocol)
}

func TestOIDCStrategy_MissingIDToken(t *testing.T) {
	fp := newFakeProvider(t, nil)
	cfg := fp.strategyConfig("Keycloak", config.ProtocolOIDC)
	strategy := newOIDCStrategy("keycloak", cfg, oauth2.Endpoint{TokenURL: cfg.TokenURL}, nil)

	_, err := strategy.Exchange(context.Background(), "good-code", oauth2.GenerateVerifier(), "http://auth.test/cb")
	assert.ErrorIs(t, err, errMissingIDToken)
}

func TestProfileFromClaims(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   Profile
	}{
		{
			name:   "oidc userinfo",
			claims: map[string]any{"sub": "s1", "preferred_username": "ivan", "email": "ivan@example.com", "name": "Ivan"},
			want:   Profile{Identifier: "s1", Username: "ivan", Email: "ivan@example.com", Name: "Ivan"},
		},
		{
			name:   "github user",
			claims: map[string]any{"id": float64(99), "login": "judy"},
			want:   Profile{Identifier: "99", Username: "judy"},
		},
		{
			name:   "json number id",
			claims: map[string]any{"id": json.Number("1234567890123"), "username": "mallory"},
			want:   Profile{Identifier: "1234567890123", Username: "mallory"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, &tt.want, profileFromClaims(tt.claims))
		})
	}
}
