package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/session"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrUserNotFound     = errors.New("user not found")
)

func setSession(c *gin.Context, sessionData *auth.SessionData) {
	c.Set("principal", sessionData)
}

func GetSessionData(c *gin.Context) (*auth.SessionData, bool) {
	principal, exists := c.Get("principal")
	if !exists {
		return nil, false
	}

	sessionData, ok := principal.(*auth.SessionData)
	return sessionData, ok
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// SessionAuthMiddleware requires a logged-in session and exposes the user as
// SessionData for JSON handlers.
func SessionAuthMiddleware(db *gorm.DB, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := session.Get(c)
		if err != nil || !sess.Authenticated() {
			respondWithError(c, log, http.StatusUnauthorized, ErrNotAuthenticated, "Unauthorized")
			return
		}

		// Verify user still exists in database
		var user models.User
		if err := models.FindByID(db.WithContext(c.Request.Context()), sess.UserID(), &user); err != nil {
			log.Error().Err(err).Str("user_id", sess.UserID()).Msg("User not found")
			respondWithError(c, log, http.StatusUnauthorized, ErrUserNotFound, "User not found")
			return
		}

		setSession(c, &auth.SessionData{
			SessionID:  sess.ID(),
			UserID:     user.ID,
			Username:   user.Username,
			Email:      user.Email,
			IsAdmin:    user.IsAdmin,
			AuthMethod: "session",
		})

		c.Next()
	}
}

// AdminOnlyMiddleware ensures the authenticated user is an admin
func AdminOnlyMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData, exists := GetSessionData(c)
		if !exists {
			respondWithError(c, log, http.StatusUnauthorized, errors.New("no session"), "Unauthorized")
			return
		}

		if !sessionData.IsAdmin {
			respondWithError(c, log, http.StatusForbidden, errors.New("not admin"), "Admin access required")
			return
		}

		c.Next()
	}
}

// RequireLogin sends anonymous visitors to the login page and remembers
// where they were going.
func RequireLogin(sessions *session.Manager, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := session.Get(c)
		if err != nil {
			log.Error().Err(err).Msg("Session middleware not installed")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		if sess.Authenticated() {
			c.Next()
			return
		}

		sess.SetReturnURL(c.Request.URL.RequestURI())
		if err := sessions.Save(c, sess); err != nil {
			log.Error().Err(err).Msg("Failed to save session")
		}
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
	}
}
