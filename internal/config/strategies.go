package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Protocols understood by the strategy dispatcher
const (
	ProtocolLocal  = "local"
	ProtocolOAuth2 = "oauth2"
	ProtocolOIDC   = "oidc"
)

// LocalStrategy is the slug of the built-in username/password strategy
const LocalStrategy = "local"

// StrategyConfig describes one authentication strategy keyed by its slug
type StrategyConfig struct {
	Name         string   `yaml:"name"`
	Protocol     string   `yaml:"protocol"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	Issuer       string   `yaml:"issuer"`
	Scopes       []string `yaml:"scopes"`
}

// Strategies maps strategy slugs to their configuration
type Strategies map[string]StrategyConfig

// LoadStrategies reads the strategies YAML file. A missing file yields only
// the local strategy.
func LoadStrategies(path string) (Strategies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return withLocal(Strategies{}), nil
		}
		return nil, fmt.Errorf("failed to read strategies file: %w", err)
	}
	return ParseStrategies(data)
}

// ParseStrategies decodes strategies YAML, expanding ${ENV} references.
func ParseStrategies(data []byte) (Strategies, error) {
	var strategies Strategies
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &strategies); err != nil {
		return nil, fmt.Errorf("failed to parse strategies: %w", err)
	}
	if strategies == nil {
		strategies = Strategies{}
	}

	for slug, s := range strategies {
		if slug == LocalStrategy {
			s.Protocol = ProtocolLocal
		}
		if s.Name == "" {
			s.Name = slug
		}
		if err := s.validate(slug); err != nil {
			return nil, err
		}
		strategies[slug] = s
	}

	return withLocal(strategies), nil
}

func (s StrategyConfig) validate(slug string) error {
	switch s.Protocol {
	case ProtocolLocal:
		if slug != LocalStrategy {
			return fmt.Errorf("strategy %q: protocol local is reserved for the %q strategy", slug, LocalStrategy)
		}
	case ProtocolOAuth2:
		if s.ClientID == "" || s.AuthURL == "" || s.TokenURL == "" || s.UserInfoURL == "" {
			return fmt.Errorf("strategy %q: oauth2 requires client_id, auth_url, token_url and userinfo_url", slug)
		}
	case ProtocolOIDC:
		if s.ClientID == "" || s.Issuer == "" {
			return fmt.Errorf("strategy %q: oidc requires client_id and issuer", slug)
		}
	default:
		return fmt.Errorf("strategy %q: unknown protocol %q", slug, s.Protocol)
	}
	return nil
}

func withLocal(strategies Strategies) Strategies {
	if _, ok := strategies[LocalStrategy]; !ok {
		strategies[LocalStrategy] = StrategyConfig{Name: "Local", Protocol: ProtocolLocal}
	}
	return strategies
}
