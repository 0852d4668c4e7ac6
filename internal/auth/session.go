package auth

// SessionData represents the authenticated principal for a request
type SessionData struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsAdmin    bool   `json:"is_admin"`
	AuthMethod string `json:"auth_method"` // "session"
}
