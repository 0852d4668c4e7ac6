package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/models"
	"github.com/authd-dev/authd/internal/session"
	"github.com/authd-dev/authd/internal/tasks"
	"github.com/authd-dev/authd/internal/views"
)

// Messages flashed back to the login and registration forms
const (
	msgPasswordMismatch = "Passwords do not match"
	msgDuplicateUser    = "User with this email already exists"
	msgLoginFailed      = "Error with logging in"
	msgInvalidToken     = "Invalid form token, please try again"
	msgBadRequest       = "Invalid form submission"
	msgPasswordTooLong  = "Password is too long"
)

// RegisterForm is the local registration form
type RegisterForm struct {
	Username        string `form:"username" binding:"required,alphanumdash,max=64"`
	Email           string `form:"email" binding:"required,email,max=254"`
	Password        string `form:"password" binding:"required,max=72"`
	ConfirmPassword string `form:"confirmPassword"`
}

// requestSession returns the request session or answers 500
func (s *Server) requestSession(c *gin.Context) (*session.Session, bool) {
	sess, err := session.Get(c)
	if err != nil {
		s.logger.Error().Err(err).Msg("Session middleware not installed")
		c.AbortWithStatus(http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

// redirect saves the session and redirects
func (s *Server) redirect(c *gin.Context, sess *session.Session, location string) {
	if err := s.sessions.Save(c, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to save session")
	}
	c.Redirect(http.StatusFound, location)
}

// render saves the session and renders a page in the site layout
func (s *Server) render(c *gin.Context, sess *session.Session, view string, data gin.H) {
	data["layout"] = views.DefaultLayout
	if _, ok := data["csrf"]; !ok {
		data["csrf"] = sess.CSRFToken()
	}
	if err := s.sessions.Save(c, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to save session")
	}
	c.HTML(http.StatusOK, view, data)
}

// authPageData builds the data shared by the login and register views
func (s *Server) authPageData(c *gin.Context, sess *session.Session) gin.H {
	return gin.H{
		"providers": s.passport.Providers(),
		"errors":    sess.Flashes("error"),
		"form":      sess.FlashedForm(),
		"user":      s.currentUser(c, sess),
	}
}

// login renders the login page
func (s *Server) login(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	if next := c.Query("next"); next != "" {
		sess.SetReturnURL(next)
	}

	s.render(c, sess, "auth/login", s.authPageData(c, sess))
}

// register renders the registration page
func (s *Server) register(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	s.render(c, sess, "auth/register", s.authPageData(c, sess))
}

// logout invalidates the session and returns to the homepage
func (s *Server) logout(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	if userID := sess.UserID(); userID != "" {
		s.logger.Info().Str("user_id", userID).Msg("User logged out")
	}

	sess.Logout()
	if err := s.sessions.Destroy(c, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID()).Msg("Failed to destroy session")
	}
	c.Redirect(http.StatusFound, "/")
}

// provider starts a third-party authorization flow
func (s *Server) provider(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	slug := c.Param("provider")
	if slug == config.LocalStrategy {
		s.redirect(c, sess, "/login")
		return
	}

	if !s.limiter.Allow(c.ClientIP()) {
		c.String(http.StatusTooManyRequests, "auth rate limit exceeded")
		return
	}

	req, err := s.passport.Endpoint(slug)
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", slug).Msg("Cannot start provider login")
		sess.Flash("error", err.Error())
		s.redirect(c, sess, "/login")
		return
	}

	sess.SetOAuthRequest(req.State, req.CodeVerifier)
	s.redirect(c, sess, req.URL)
}

// callback verifies credentials for local logins and registrations and for
// third-party callbacks, then establishes the login session.
func (s *Server) callback(c *gin.Context) {
	sess, ok := s.requestSession(c)
	if !ok {
		return
	}

	slug := c.Param("provider")
	action := c.Param("action")
	if action == "callback" {
		action = ""
	}

	parseErr := c.Request.ParseForm()
	params := c.Request.Form

	tryAgain := func(message string) {
		// Send the user back to the form, which renders the flashed errors
		sess.FlashForm(params)
		sess.Flash("error", message)

		target := "/login"
		switch {
		case action == auth.ActionRegister:
			target = "/register"
		case sess.Authenticated() && (action == auth.ActionConnect || action == auth.ActionDisconnect):
			target = "/account"
		}
		s.redirect(c, sess, target)
	}

	if parseErr != nil {
		s.logger.Warn().Err(parseErr).Str("provider", slug).Msg("Malformed callback request")
		tryAgain(msgBadRequest)
		return
	}

	if requiresCSRF(slug, action) && !sess.ValidCSRF(params.Get(session.CSRFField)) {
		tryAgain(msgInvalidToken)
		return
	}

	if action == auth.ActionRegister {
		if params.Get("password") != params.Get("confirmPassword") {
			tryAgain(msgPasswordMismatch)
			return
		}
		if slug == config.LocalStrategy {
			var form RegisterForm
			if err := c.ShouldBind(&form); err != nil {
				tryAgain(validationMessage(err))
				return
			}
		}
	}

	state, codeVerifier := sess.PopOAuthRequest()
	user, err := s.passport.Callback(c.Request.Context(), slug, auth.CallbackInput{
		Action:        action,
		Params:        params,
		ExpectedState: state,
		CodeVerifier:  codeVerifier,
		CurrentUserID: sess.UserID(),
	})
	if err != nil {
		message := err.Error()
		switch {
		case errors.Is(err, auth.ErrDuplicateUser):
			message = msgDuplicateUser
		case errors.Is(err, auth.ErrPasswordTooLong):
			message = msgPasswordTooLong
		}
		s.logger.Info().Err(err).Str("provider", slug).Str("action", action).Msg("Authentication failed")
		tryAgain(message)
		return
	}

	s.establishLogin(c, sess, user, slug, action, tryAgain)
}

// establishLogin binds the user to the session and redirects to the stored
// return URL or the homepage.
func (s *Server) establishLogin(c *gin.Context, sess *session.Session, user *models.User, slug, action string, tryAgain func(string)) {
	sess.Login(user.ID)

	target := sess.PopReturnURL()
	if action == auth.ActionConnect || action == auth.ActionDisconnect {
		target = "/account"
	}
	if target == "" {
		target = "/"
	}

	if err := s.sessions.Save(c, sess); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to establish login session")
		sess.Logout()
		tryAgain(msgLoginFailed)
		return
	}

	if action != auth.ActionDisconnect {
		s.logger.Info().Str("user_id", user.ID).Str("provider", slug).Msg("User logged in")
		s.recordLogin(c, user, slug)
	}

	c.Redirect(http.StatusFound, target)
}

// recordLogin queues the login audit task; failures only get logged
func (s *Server) recordLogin(c *gin.Context, user *models.User, slug string) {
	if s.tasks == nil {
		return
	}

	task, err := tasks.NewLoginRecordedTask(tasks.LoginRecordedPayload{
		UserID:    user.ID,
		Provider:  slug,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		At:        time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create login task")
		return
	}

	if _, err := s.tasks.EnqueueContext(c.Request.Context(), task); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to enqueue login task")
	}
}

// requiresCSRF reports whether the request must carry the session's form
// token. Third-party callbacks are bound to the session by their state.
func requiresCSRF(slug, action string) bool {
	return slug == config.LocalStrategy || action == auth.ActionDisconnect
}

// validationMessage turns binding errors into a message for the form
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	switch fe.Field() {
	case "Username":
		if fe.Tag() == "alphanumdash" {
			return "Username may only contain letters, numbers, dashes and underscores"
		}
		if fe.Tag() == "max" {
			return "Username is too long"
		}
		return "Username is required"
	case "Email":
		if fe.Tag() == "required" {
			return "Email is required"
		}
		return "Email is not valid"
	case "Password":
		if fe.Tag() == "max" {
			return "Password is too long"
		}
		return "Password is required"
	}
	return err.Error()
}
