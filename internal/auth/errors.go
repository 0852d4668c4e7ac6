package auth

import "errors"

var (
	ErrUnknownProvider   = errors.New("unknown authentication provider")
	ErrNotRedirectable   = errors.New("provider does not use a redirect flow")
	ErrInvalidState      = errors.New("invalid authorization state")
	ErrProviderDenied    = errors.New("provider denied the authorization request")
	ErrMissingCode       = errors.New("missing authorization code")
	ErrMissingIdentifier = errors.New("missing username or email")
	ErrUnknownIdentifier = errors.New("no account found for that username or email")
	ErrEmptyPassword     = errors.New("password is required")
	ErrWrongPassword     = errors.New("wrong password")
	ErrNoPassword        = errors.New("account has no password, sign in with a linked provider")
	ErrDuplicateUser     = errors.New("user already exists")
	ErrAlreadyConnected  = errors.New("account already has a password")
	ErrNotLoggedIn       = errors.New("you must be signed in to connect an account")
	ErrIncompleteProfile = errors.New("provider profile is missing an identifier")
	ErrMissingEmail      = errors.New("provider did not share an email address")
	ErrLastPassport      = errors.New("cannot disconnect the only sign-in method of an account")
	ErrNotConnected      = errors.New("account is not connected to this provider")
	ErrIdentityTaken     = errors.New("this account is already linked to another user")
	ErrPasswordTooLong   = errors.New("password is too long")
)
