// Package session keeps server-side browser sessions referenced by a signed
// cookie, including one-shot flash messages that survive a redirect.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/authd-dev/authd/internal/assert"
	"github.com/authd-dev/authd/internal/models"
)

// Session is the request-scoped view of a stored session
type Session struct {
	record  models.Session
	flashes map[string][]string

	isNew     bool
	dirty     bool
	rotatedID string // previous ID, removed from the store on save
	cookieID  string // ID referenced by the client's cookie
}

func newSession() *Session {
	return &Session{
		record:  models.Session{BaseModel: models.BaseModel{ID: ulid.Make().String()}},
		flashes: map[string][]string{},
		isNew:   true,
	}
}

func fromRecord(record models.Session) *Session {
	s := &Session{record: record, flashes: map[string][]string{}, cookieID: record.ID}
	if record.FlashData != "" {
		// A corrupt flash payload only loses the messages
		_ = json.Unmarshal([]byte(record.FlashData), &s.flashes)
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.record.ID
}

// UserID returns the logged-in user, or "" for anonymous sessions
func (s *Session) UserID() string {
	if s.record.UserID == nil {
		return ""
	}
	return *s.record.UserID
}

// Authenticated reports whether the session completed a login
func (s *Session) Authenticated() bool {
	return s.record.Authenticated && s.record.UserID != nil
}

// Flash appends messages under key for the next request
func (s *Session) Flash(key string, values ...string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		s.flashes[key] = append(s.flashes[key], v)
		s.dirty = true
	}
}

// Flashes returns and clears the messages stored under key
func (s *Session) Flashes(key string) []string {
	values, ok := s.flashes[key]
	if !ok {
		return []string{}
	}
	delete(s.flashes, key)
	s.dirty = true
	return values
}

// FlashForm stores submitted form values for re-populating a form.
// Password fields are never stored.
func (s *Session) FlashForm(form url.Values) {
	safe := url.Values{}
	for key, values := range form {
		if strings.Contains(strings.ToLower(key), "password") || key == CSRFField {
			continue
		}
		safe[key] = values
	}
	if len(safe) > 0 {
		s.Flash(formKey, safe.Encode())
	}
}

// FlashedForm returns and clears the form values stored by FlashForm
func (s *Session) FlashedForm() url.Values {
	form := url.Values{}
	for _, encoded := range s.Flashes(formKey) {
		values, err := url.ParseQuery(encoded)
		if err != nil {
			continue
		}
		for key, v := range values {
			form[key] = v
		}
	}
	return form
}

// SetReturnURL stores where to send the user after logging in. Only local
// paths are accepted.
func (s *Session) SetReturnURL(target string) bool {
	if !IsLocalURL(target) {
		return false
	}
	s.record.ReturnURL = target
	s.dirty = true
	return true
}

// PopReturnURL returns and clears the stored return URL
func (s *Session) PopReturnURL() string {
	target := s.record.ReturnURL
	if target != "" {
		s.record.ReturnURL = ""
		s.dirty = true
	}
	return target
}

// SetOAuthRequest remembers the state and PKCE verifier of a pending
// third-party login.
func (s *Session) SetOAuthRequest(state, codeVerifier string) {
	s.record.OAuthState = state
	s.record.CodeVerifier = codeVerifier
	s.dirty = true
}

// PopOAuthRequest returns and clears the pending state and verifier
func (s *Session) PopOAuthRequest() (state, codeVerifier string) {
	state, codeVerifier = s.record.OAuthState, s.record.CodeVerifier
	if state != "" || codeVerifier != "" {
		s.record.OAuthState = ""
		s.record.CodeVerifier = ""
		s.dirty = true
	}
	return state, codeVerifier
}

// CSRFToken returns the form token of this session, creating it on first use
func (s *Session) CSRFToken() string {
	if s.record.CSRFToken == "" {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		s.record.CSRFToken = hex.EncodeToString(b)
		s.dirty = true
	}
	return s.record.CSRFToken
}

// ValidCSRF checks a submitted form token
func (s *Session) ValidCSRF(token string) bool {
	if s.record.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.record.CSRFToken)) == 1
}

// Login binds the session to a user. The session ID is rotated so an ID
// known before login cannot be used afterwards.
func (s *Session) Login(userID string) {
	assert.NotEmpty(userID, "userID")
	if !s.isNew && s.rotatedID == "" {
		s.rotatedID = s.record.ID
	}
	s.record.ID = ulid.Make().String()
	s.record.UserID = &userID
	s.record.Authenticated = true
	s.record.CSRFToken = ""
	s.dirty = true
}

// Logout removes the user from the session
func (s *Session) Logout() {
	s.record.UserID = nil
	s.record.Authenticated = false
	s.record.OAuthState = ""
	s.record.CodeVerifier = ""
	s.dirty = true
}

// IsLocalURL reports whether target is a path on this site
func IsLocalURL(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
