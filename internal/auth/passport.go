package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/database"
	"github.com/authd-dev/authd/internal/models"
)

// Callback actions
const (
	ActionRegister   = "register"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

// Passport dispatches authentication requests to the configured strategies
type Passport struct {
	db         *gorm.DB
	logger     zerolog.Logger
	baseURL    string
	local      *LocalStrategy
	strategies map[string]Strategy
}

// NewPassport builds every configured strategy. OIDC strategies perform
// issuer discovery and fail construction when the issuer is unreachable.
func NewPassport(ctx context.Context, db *gorm.DB, strategies config.Strategies, baseURL string, zlog zerolog.Logger) (*Passport, error) {
	p := &Passport{
		db:         db,
		logger:     zlog,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		strategies: make(map[string]Strategy, len(strategies)),
	}

	for slug, cfg := range strategies {
		switch cfg.Protocol {
		case config.ProtocolLocal:
			p.register(NewLocalStrategy(db, cfg))
		case config.ProtocolOAuth2:
			p.register(NewOAuth2Strategy(slug, cfg))
		case config.ProtocolOIDC:
			strategy, err := NewOIDCStrategy(ctx, slug, cfg)
			if err != nil {
				return nil, err
			}
			p.register(strategy)
		default:
			return nil, fmt.Errorf("strategy %q: unknown protocol %q", slug, cfg.Protocol)
		}
		zlog.Debug().Str("strategy", slug).Str("protocol", cfg.Protocol).Msg("Registered authentication strategy")
	}

	return p, nil
}

// register adds or replaces a strategy
func (p *Passport) register(strategy Strategy) {
	if local, ok := strategy.(*LocalStrategy); ok {
		p.local = local
	}
	p.strategies[strategy.Slug()] = strategy
}

// Local returns the local password strategy, if configured
func (p *Passport) Local() *LocalStrategy {
	return p.local
}

// Providers lists the third-party strategies for templates, ordered by slug.
// The local strategy is never included.
func (p *Passport) Providers() []ProviderView {
	providers := make([]ProviderView, 0, len(p.strategies))
	for slug, s := range p.strategies {
		if slug == config.LocalStrategy {
			continue
		}
		providers = append(providers, ProviderView{Name: s.Name(), Slug: slug})
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Slug < providers[j].Slug
	})
	return providers
}

// CallbackURL returns the absolute callback URL of a redirect strategy
func (p *Passport) CallbackURL(slug string) string {
	return p.baseURL + "/auth/" + slug + "/callback"
}

// Endpoint starts a redirect flow for the given provider
func (p *Passport) Endpoint(slug string) (*AuthRequest, error) {
	strategy, ok := p.strategies[slug]
	if !ok {
		return nil, ErrUnknownProvider
	}
	redirect, ok := strategy.(RedirectStrategy)
	if !ok {
		return nil, ErrNotRedirectable
	}

	state := generateState()
	verifier := oauth2.GenerateVerifier()

	return &AuthRequest{
		URL:          redirect.AuthCodeURL(state, verifier, p.CallbackURL(slug)),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// Callback verifies the credentials delivered to a callback endpoint and
// returns the authenticated user.
func (p *Passport) Callback(ctx context.Context, slug string, in CallbackInput) (*models.User, error) {
	strategy, ok := p.strategies[slug]
	if !ok {
		return nil, ErrUnknownProvider
	}

	if in.Action == ActionDisconnect {
		return p.disconnect(ctx, slug, in.CurrentUserID)
	}

	switch s := strategy.(type) {
	case *LocalStrategy:
		switch in.Action {
		case ActionRegister:
			return s.Register(ctx, in.Params)
		case ActionConnect:
			if in.CurrentUserID == "" {
				return nil, ErrNotLoggedIn
			}
			return s.Connect(ctx, in.CurrentUserID, in.Params.Get("password"))
		default:
			identifier := in.Params.Get("identifier")
			if identifier == "" {
				identifier = in.Params.Get("email")
			}
			if identifier == "" {
				identifier = in.Params.Get("username")
			}
			return s.Login(ctx, identifier, in.Params.Get("password"))
		}

	case RedirectStrategy:
		state := in.Params.Get("state")
		if in.ExpectedState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(in.ExpectedState)) != 1 {
			return nil, ErrInvalidState
		}

		if providerErr := in.Params.Get("error"); providerErr != "" {
			if desc := in.Params.Get("error_description"); desc != "" {
				providerErr = desc
			}
			return nil, fmt.Errorf("%w: %s", ErrProviderDenied, providerErr)
		}

		code := in.Params.Get("code")
		if code == "" {
			return nil, ErrMissingCode
		}

		profile, err := s.Exchange(ctx, code, in.CodeVerifier, p.CallbackURL(slug))
		if err != nil {
			return nil, err
		}

		return p.connect(ctx, s, profile, in.CurrentUserID)

	default:
		return nil, ErrNotRedirectable
	}
}

// connect resolves a third-party profile to a user, creating or linking the
// passport as needed.
func (p *Passport) connect(ctx context.Context, strategy Strategy, profile *Profile, currentUserID string) (*models.User, error) {
	if profile.Identifier == "" {
		return nil, ErrIncompleteProfile
	}

	db := p.db.WithContext(ctx)
	slug := strategy.Slug()

	var passport models.Passport
	err := db.Where("provider = ? AND identifier = ?", slug, profile.Identifier).First(&passport).Error
	switch {
	case err == nil:
		if currentUserID != "" && passport.UserID != currentUserID {
			return nil, ErrIdentityTaken
		}
		// Known identity: refresh tokens and sign in as its owner
		if err := db.Model(&passport).Updates(map[string]interface{}{
			"access_token":  profile.AccessToken,
			"refresh_token": profile.RefreshToken,
		}).Error; err != nil {
			return nil, err
		}
		var user models.User
		if err := models.FindByID(db, passport.UserID, &user); err != nil {
			return nil, err
		}
		return &user, nil

	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	newPassport := &models.Passport{
		Protocol:     strategy.Protocol(),
		Provider:     slug,
		Identifier:   profile.Identifier,
		AccessToken:  profile.AccessToken,
		RefreshToken: profile.RefreshToken,
	}

	if currentUserID != "" {
		var user models.User
		if err := models.FindByID(db, currentUserID, &user); err != nil {
			return nil, err
		}
		newPassport.UserID = user.ID
		if err := db.Create(newPassport).Error; err != nil {
			return nil, err
		}
		p.logger.Info().Str("user_id", user.ID).Str("provider", slug).Msg("Linked provider to account")
		return &user, nil
	}

	if profile.Email == "" {
		return nil, ErrMissingEmail
	}

	user := &models.User{
		Username: p.availableUsername(ctx, profile, slug),
		Email:    strings.ToLower(profile.Email),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		newPassport.UserID = user.ID
		return tx.Create(newPassport).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}

	p.logger.Info().Str("user_id", user.ID).Str("provider", slug).Msg("Created account from provider profile")
	return user, nil
}

// availableUsername picks the profile username, or a provider-qualified
// variant when it is already taken.
func (p *Passport) availableUsername(ctx context.Context, profile *Profile, slug string) string {
	username := profile.Username
	if username == "" {
		username, _, _ = strings.Cut(profile.Email, "@")
	}
	if username == "" {
		username = slug + "-" + profile.Identifier
	}

	var count int64
	p.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count)
	if count > 0 {
		return username + "-" + slug
	}
	return username
}

func (p *Passport) disconnect(ctx context.Context, slug, userID string) (*models.User, error) {
	if userID == "" {
		return nil, ErrNotLoggedIn
	}

	var user models.User
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.FindByID(tx, userID, &user); err != nil {
			return err
		}

		var passports []models.Passport
		if err := tx.Where("user_id = ?", userID).Find(&passports).Error; err != nil {
			return err
		}

		var target *models.Passport
		for i := range passports {
			if passports[i].Provider == slug {
				target = &passports[i]
			}
		}
		if target == nil {
			return ErrNotConnected
		}
		if len(passports) == 1 {
			return ErrLastPassport
		}
		return tx.Delete(target).Error
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info().Str("user_id", userID).Str("provider", slug).Msg("Disconnected provider from account")
	return &user, nil
}
