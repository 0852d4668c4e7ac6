package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
)

const (
	contextKey = "session"
	formKey    = "form"

	// CSRFField is the form field carrying the session's CSRF token
	CSRFField = "_csrf"
)

var ErrNoSession = errors.New("no session in request context")

// Manager loads and persists sessions
type Manager struct {
	db         *gorm.DB
	signer     *auth.Signer
	logger     zerolog.Logger
	cookieName string
	secure     bool
	ttl        time.Duration
}

// NewManager creates a session manager
func NewManager(db *gorm.DB, signer *auth.Signer, cfg config.SessionConfig, zlog zerolog.Logger) *Manager {
	return &Manager{
		db:         db,
		signer:     signer,
		logger:     zlog,
		cookieName: cfg.CookieName,
		secure:     cfg.CookieSecure,
		ttl:        cfg.TTL,
	}
}

// Middleware attaches the request's session to the gin context. Requests
// without a valid cookie get a fresh session and cookie.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := m.load(c)
		if sess.cookieID != sess.ID() {
			if err := m.setCookie(c, sess); err != nil {
				m.logger.Error().Err(err).Msg("Failed to sign session cookie")
			}
		}
		c.Set(contextKey, sess)

		c.Next()

		// Handlers save before responding; this only catches late mutations
		if sess.dirty {
			if err := m.persist(c.Request.Context(), sess); err != nil {
				m.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to save session")
			}
		}
	}
}

// Get returns the session attached by Middleware
func Get(c *gin.Context) (*Session, error) {
	value, exists := c.Get(contextKey)
	if !exists {
		return nil, ErrNoSession
	}
	sess, ok := value.(*Session)
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}

// Save persists the session and refreshes the cookie when the ID changed.
// Call it before writing the response.
func (m *Manager) Save(c *gin.Context, sess *Session) error {
	if err := m.persist(c.Request.Context(), sess); err != nil {
		return err
	}
	if sess.cookieID != sess.ID() {
		return m.setCookie(c, sess)
	}
	return nil
}

// Destroy removes the session from the store and expires the cookie
func (m *Manager) Destroy(c *gin.Context, sess *Session) error {
	if err := m.db.WithContext(c.Request.Context()).Where("id = ?", sess.ID()).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	sess.dirty = false
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return nil
}

// DeleteExpired removes sessions past their expiry
func DeleteExpired(ctx context.Context, db *gorm.DB) (int64, error) {
	result := db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (m *Manager) load(c *gin.Context) *Session {
	cookie, err := c.Request.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return newSession()
	}

	sessionID, err := m.signer.Parse(cookie.Value)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Discarding invalid session cookie")
		return newSession()
	}

	var record models.Session
	err = m.db.WithContext(c.Request.Context()).
		Where("id = ? AND expires_at > ?", sessionID, time.Now()).
		First(&record).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			m.logger.Error().Err(err).Msg("Failed to load session")
		}
		return newSession()
	}

	return fromRecord(record)
}

func (m *Manager) persist(ctx context.Context, sess *Session) error {
	flashData, err := json.Marshal(sess.flashes)
	if err != nil {
		return fmt.Errorf("failed to encode flashes: %w", err)
	}
	sess.record.FlashData = string(flashData)
	sess.record.ExpiresAt = time.Now().Add(m.ttl)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sess.rotatedID != "" {
			if err := tx.Where("id = ?", sess.rotatedID).Delete(&models.Session{}).Error; err != nil {
				return err
			}
		}
		// Save inserts or updates by primary key
		return tx.Save(&sess.record).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	sess.rotatedID = ""
	sess.isNew = false
	sess.dirty = false
	return nil
}

func (m *Manager) setCookie(c *gin.Context, sess *Session) error {
	token, err := m.signer.Sign(sess.ID())
	if err != nil {
		return err
	}
	sess.cookieID = sess.ID()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	return nil
}
