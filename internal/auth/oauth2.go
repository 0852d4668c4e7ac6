package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/authd-dev/authd/internal/config"
)

// OAuth2Strategy authenticates against a generic OAuth2 provider and reads
// the profile from its userinfo endpoint.
type OAuth2Strategy struct {
	baseStrategy
	oauthConfig *oauth2.Config
	userInfoURL string
}

var _ RedirectStrategy = (*OAuth2Strategy)(nil)

// NewOAuth2Strategy creates an OAuth2 strategy from configuration
func NewOAuth2Strategy(slug string, cfg config.StrategyConfig) *OAuth2Strategy {
	return &OAuth2Strategy{
		baseStrategy: baseStrategy{slug: slug, cfg: cfg},
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
	}
}

func (s *OAuth2Strategy) AuthCodeURL(state, _ string, redirectURL string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.SetAuthURLParam("redirect_uri", redirectURL))
}

func (s *OAuth2Strategy) Exchange(ctx context.Context, code, _ string, redirectURL string) (*Profile, error) {
	token, err := s.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("redirect_uri", redirectURL))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	claims, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	profile := profileFromClaims(claims)
	profile.AccessToken = token.AccessToken
	profile.RefreshToken = token.RefreshToken
	return profile, nil
}

func (s *OAuth2Strategy) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.oauthConfig.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("user info request failed (status %d): %s", resp.StatusCode, body)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return claims, nil
}

// profileFromClaims maps the common userinfo shapes (OIDC, GitHub, GitLab,
// Gitea) onto a Profile.
func profileFromClaims(claims map[string]any) *Profile {
	return &Profile{
		Identifier: firstClaim(claims, "sub", "id"),
		Username:   firstClaim(claims, "preferred_username", "login", "username", "nickname"),
		Email:      firstClaim(claims, "email"),
		Name:       firstClaim(claims, "name"),
	}
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}
