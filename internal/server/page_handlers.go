package server

import (
	"github.com/gin-gonic/gin"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/session"
)

// currentUser loads the logged-in user, or nil for anonymous sessions
func (s *Server) currentUser(c *gin.Context, sess *session.Session) *models.User {
	if !sess.Authenticated() {
		return nil
	}
	var user models.User
	if err := models.FindByID(s.db.WithContext(c.Request.Context()), sess.UserID(), &user); err != nil {
		s.logger.Warn().Err(err).Str("user_id", sess.UserID()).Msg("Session user not found")
		return nil
	}
	return &user
}

func (s *Server) home(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	s.render(c, sess, "home", gin.H{
		"user":    s.currentUser(c, sess),
		"errors":  sess.Flashes("error"),
		"notices": sess.Flashes("info"),
	})
}

// account lists the sign-in methods of the logged-in user
func (s *Server) account(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	var user models.User
	if err := models.FindByIDWithPreload(s.db.WithContext(c.Request.Context()), sess.UserID(), &user, "Passports"); err != nil {
		s.logger.Error().Err(err).Str("user_id", sess.UserID()).Msg("Failed to load account")
		sess.Logout()
		s.redirect(c, sess, "/login")
		return
	}

	linked := make(map[string]bool, len(user.Passports))
	for _, p := range user.Passports {
		linked[p.Provider] = true
	}

	var connected, available []auth.ProviderView
	if linked[config.LocalStrategy] {
		connected = append(connected, auth.ProviderView{Name: "Password", Slug: config.LocalStrategy})
	}
	for _, provider := range s.passport.Providers() {
		if linked[provider.Slug] {
			connected = append(connected, provider)
		} else {
			available = append(available, provider)
		}
	}

	s.render(c, sess, "account", gin.H{
		"user":        &user,
		"connected":   connected,
		"available":   available,
		"hasPassword": linked[config.LocalStrategy],
		"errors":      sess.Flashes("error"),
	})
}
