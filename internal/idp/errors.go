package idp

import (
	"errors"
	"fmt"
)

// Token verification errors.
var (
	ErrKeyNotFound    = errors.New("no signing key matches token kid")
	ErrTokenExpired   = errors.New("token expired")
	ErrInvalidClaims  = errors.New("incorrect claims, check the audience and issuer")
	ErrMalformedToken = errors.New("unable to parse authentication token")
)

// Authentication and IdP call errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrReauthRequired     = errors.New("interactive re-authentication required")
	ErrRejected           = errors.New("request rejected by identity provider")
	ErrUnavailable        = errors.New("identity provider unavailable")
)

// RejectedError carries the identity provider's response verbatim for
// definitive rejections (HTTP 400, 409, 429). Matches ErrRejected under
// errors.Is.
type RejectedError struct {
	StatusCode int
	Body       []byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected by identity provider: status %d: %s", e.StatusCode, e.Body)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// classifyStatus applies the status-code contract shared by all IdP calls.
func classifyStatus(status int, body []byte) error {
	switch status {
	case 400, 409, 429: // includes duplicate user on create
		return &RejectedError{StatusCode: status, Body: body}
	}
	if status >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}
	return nil
}
