package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// User represents an account that can sign in through one or more passports
type User struct {
	BaseModel
	Username    string     `json:"username" gorm:"unique;not null"`
	Email       string     `json:"email" gorm:"unique;not null"`
	IsAdmin     bool       `json:"is_admin" gorm:"not null;default:false"`
	LastLoginAt *time.Time `json:"last_login_at"`
	LoginCount  int        `json:"login_count" gorm:"not null;default:0"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Passports []Passport `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// Passport links a user to one authentication strategy.
// Local passports carry a password hash, third-party passports carry the
// provider's subject identifier and tokens.
type Passport struct {
	BaseModel
	UserID       string    `json:"user_id" gorm:"not null;index"`
	Protocol     string    `json:"protocol" gorm:"not null"` // local, oauth2, oidc
	Provider     string    `json:"provider" gorm:"not null;uniqueIndex:idx_passport_identity"`
	Identifier   string    `json:"identifier" gorm:"not null;uniqueIndex:idx_passport_identity"`
	PasswordHash string    `json:"-"`
	AccessToken  string    `json:"-" gorm:"type:text"`
	RefreshToken string    `json:"-" gorm:"type:text"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Session is a server-side browser session referenced by a signed cookie
type Session struct {
	BaseModel
	UserID        *string   `gorm:"index"`
	Authenticated bool      `gorm:"not null;default:false"`
	ReturnURL     string    `gorm:"type:text"`
	OAuthState    string    `gorm:"column:oauth_state"`
	CodeVerifier  string    // PKCE verifier for the pending OIDC login
	CSRFToken     string    `gorm:"column:csrf_token"`
	FlashData     string    `gorm:"type:text"` // JSON-encoded map[string][]string
	ExpiresAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// LoginEvent is an audit record written by the worker for every successful login
type LoginEvent struct {
	BaseModel
	UserID    string `json:"user_id" gorm:"not null;index"`
	Provider  string `json:"provider" gorm:"not null"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent" gorm:"type:text"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	// Collect all models
	models := []interface{}{
		&User{}, &Passport{}, &Session{}, &LoginEvent{},
	}

	return db.AutoMigrate(models...)
}

// DeleteUser removes a user together with their passports and sessions
func DeleteUser(db *gorm.DB, user *User) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&Passport{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&Session{}).Error; err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return query.Where("id = ?", id).First(model).Error
}
