package reddit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrReconnectRequired means the user's linked account can no longer be
	// used (refresh rejected, or nothing linked) and only the user can fix it
	ErrReconnectRequired = errors.New("reddit account must be reconnected")

	// ErrCredentialsNotConfigured means the app client id/secret are missing
	ErrCredentialsNotConfigured = errors.New("reddit API credentials not configured")

	// ErrInvalidCredentials means the token endpoint refused the app's client
	// id/secret (or the authorization code being exchanged)
	ErrInvalidCredentials = errors.New("reddit rejected the app credentials")

	// ErrMalformedResponse means a payload did not have the expected shape
	ErrMalformedResponse = errors.New("malformed response")

	// ErrCommentRejected means the comment endpoint answered 200 with errors
	ErrCommentRejected = errors.New("comment rejected")
)

// maxErrorBody bounds how much of an upstream body is kept in errors
const maxErrorBody = 500

// APIError is a failed content API call
type APIError struct {
	Op         string // list, replies, about, me, comment, rss
	Forum      string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("reddit %s failed", e.Op)
	if e.Forum != "" {
		msg += fmt.Sprintf(" for r/%s", e.Forum)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += " - " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

// TokenError is a failed grant against the OAuth token endpoint
type TokenError struct {
	Grant      string
	StatusCode int
	Code       string // OAuth error code, when the endpoint sent one
	Body       string
	Err        error
}

func (e *TokenError) Error() string {
	msg := fmt.Sprintf("reddit %s grant failed: status %d", e.Grant, e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Body != "" {
		msg += " - " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is a transient upstream failure:
// 429, 5xx, timeouts and network errors. Caller cancellation is not retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return retriableStatus(apiErr.StatusCode)
	}
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) && tokenErr.StatusCode != 0 {
		return retriableStatus(tokenErr.StatusCode)
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func retriableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
