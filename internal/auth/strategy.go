package auth

import (
	"context"
	"net/url"

	"github.com/authd-dev/authd/internal/config"
)

// Strategy is an authentication method registered with the Passport
type Strategy interface {
	Slug() string
	Name() string
	Protocol() string
}

// RedirectStrategy is a strategy that sends the browser to a third party and
// receives it back on a callback URL.
type RedirectStrategy interface {
	Strategy
	AuthCodeURL(state, codeVerifier, redirectURL string) string
	Exchange(ctx context.Context, code, codeVerifier, redirectURL string) (*Profile, error)
}

// Profile is the normalized identity returned by a third-party provider
type Profile struct {
	Identifier   string
	Username     string
	Email        string
	Name         string
	AccessToken  string
	RefreshToken string
}

// ProviderView is the template representation of a configured provider
type ProviderView struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// AuthRequest is the outcome of starting a redirect flow. State and
// CodeVerifier must be kept in the session until the callback.
type AuthRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

// CallbackInput carries everything a strategy needs to verify a callback
type CallbackInput struct {
	Action        string     // "register", "connect", "disconnect" or empty
	Params        url.Values // posted form values or callback query values
	ExpectedState string
	CodeVerifier  string
	CurrentUserID string
}

type baseStrategy struct {
	slug string
	cfg  config.StrategyConfig
}

func (b baseStrategy) Slug() string     { return b.slug }
func (b baseStrategy) Name() string     { return b.cfg.Name }
func (b baseStrategy) Protocol() string { return b.cfg.Protocol }
