package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/database"
	"github.com/authd-dev/authd/internal/models"
)

// LocalStrategy authenticates users with a username or email and a password
type LocalStrategy struct {
	baseStrategy
	db *gorm.DB
}

// NewLocalStrategy creates the local password strategy
func NewLocalStrategy(db *gorm.DB, cfg config.StrategyConfig) *LocalStrategy {
	return &LocalStrategy{
		baseStrategy: baseStrategy{slug: config.LocalStrategy, cfg: cfg},
		db:           db,
	}
}

// Login verifies an identifier (email when it contains "@", username
// otherwise) and password.
func (s *LocalStrategy) Login(ctx context.Context, identifier, password string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrMissingIdentifier
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	column := "username"
	if strings.Contains(identifier, "@") {
		column = "email"
		identifier = strings.ToLower(identifier)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where(column+" = ?", identifier).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownIdentifier
		}
		return nil, err
	}

	var passport models.Passport
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND protocol = ?", user.ID, config.ProtocolLocal).
		First(&passport).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPassword
		}
		return nil, err
	}

	if err := VerifyPassword(password, passport.PasswordHash); err != nil {
		return nil, err
	}

	return &user, nil
}

// Register creates a user together with its local passport
func (s *LocalStrategy) Register(ctx context.Context, params url.Values) (*models.User, error) {
	username := strings.TrimSpace(params.Get("username"))
	email := strings.ToLower(strings.TrimSpace(params.Get("email")))
	password := params.Get("password")

	if username == "" || email == "" {
		return nil, ErrMissingIdentifier
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username: username,
		Email:    email,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&models.Passport{
			UserID:       user.ID,
			Protocol:     config.ProtocolLocal,
			Provider:     config.LocalStrategy,
			Identifier:   user.ID,
			PasswordHash: passwordHash,
		}).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}

	return user, nil
}

// Connect adds a password to an existing account that signed up through a
// third-party provider.
func (s *LocalStrategy) Connect(ctx context.Context, userID, password string) (*models.User, error) {
	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := models.FindByID(s.db.WithContext(ctx), userID, &user); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Create(&models.Passport{
		UserID:       user.ID,
		Protocol:     config.ProtocolLocal,
		Provider:     config.LocalStrategy,
		Identifier:   user.ID,
		PasswordHash: passwordHash,
	}).Error
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAlreadyConnected
		}
		return nil, err
	}

	return &user, nil
}
