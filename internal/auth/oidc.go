package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/authd-dev/authd/internal/config"
)

var errMissingIDToken = errors.New("missing id_token field from oauth token")

// OIDCStrategy authenticates against an OpenID Connect provider using the
// authorization code flow with PKCE.
type OIDCStrategy struct {
	baseStrategy
	oauthConfig  *oauth2.Config
	oidcVerifier *oidc.IDTokenVerifier
}

var _ RedirectStrategy = (*OIDCStrategy)(nil)

// NewOIDCStrategy discovers the issuer and creates an OIDC strategy
func NewOIDCStrategy(ctx context.Context, slug string, cfg config.StrategyConfig) (*OIDCStrategy, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC provider %q: %w", slug, err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return newOIDCStrategy(slug, cfg, provider.Endpoint(), verifier), nil
}

func newOIDCStrategy(slug string, cfg config.StrategyConfig, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *OIDCStrategy {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCStrategy{
		baseStrategy: baseStrategy{slug: slug, cfg: cfg},
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		oidcVerifier: verifier,
	}
}

func (s *OIDCStrategy) AuthCodeURL(state, codeVerifier, redirectURL string) string {
	return s.oauthConfig.AuthCodeURL(state,
		oauth2.SetAuthURLParam("redirect_uri", redirectURL),
		oauth2.S256ChallengeOption(codeVerifier),
	)
}

func (s *OIDCStrategy) Exchange(ctx context.Context, code, codeVerifier, redirectURL string) (*Profile, error) {
	token, err := s.oauthConfig.Exchange(ctx, code,
		oauth2.SetAuthURLParam("redirect_uri", redirectURL),
		oauth2.VerifierOption(codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errMissingIDToken
	}

	idToken, err := s.oidcVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	profile := profileFromClaims(claims)
	profile.Identifier = idToken.Subject
	profile.AccessToken = token.AccessToken
	profile.RefreshToken = token.RefreshToken
	return profile, nil
}
