package scan

import (
	"errors"
	"fmt"

	"github.com/steveyegge/pubhub/internal/ai"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/storage"
)

var (
	// ErrReconnectRequired means the user must link their account again:
	// nothing is linked, or the refresh token was rejected
	ErrReconnectRequired = errors.New("reconnect required")

	// ErrConfiguration means the scan cannot run until something is set up:
	// unknown project, missing or rejected app credentials, no forums
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient wraps upstream failures worth retrying (5xx, 429, network)
	ErrTransient = errors.New("transient upstream failure")
)

// ErrorClass is the coarse category reported to callers and recorded on events
type ErrorClass string

const (
	ClassReconnect     ErrorClass = "reconnect_required"
	ClassTransient     ErrorClass = "transient"
	ClassConfiguration ErrorClass = "configuration"
	ClassUnknown       ErrorClass = "unknown"
)

// Classify maps any error to its class. Scan sentinels win over the
// upstream errors they wrap.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReconnectRequired), errors.Is(err, reddit.ErrReconnectRequired):
		return ClassReconnect
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, reddit.ErrCredentialsNotConfigured),
		errors.Is(err, reddit.ErrInvalidCredentials),
		errors.Is(err, storage.ErrNotFound):
		return ClassConfiguration
	case errors.Is(err, ErrTransient),
		errors.Is(err, jobs.ErrRateLimited),
		reddit.IsRetriable(err),
		ai.IsRetriable(err):
		return ClassTransient
	}
	return ClassUnknown
}

// upstream tags err with the scan sentinel matching its class, so callers
// can test with errors.Is against this package alone
func upstream(err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case ClassReconnect:
		if !errors.Is(err, ErrReconnectRequired) {
			return fmt.Errorf("%w: %w", ErrReconnectRequired, err)
		}
	case ClassConfiguration:
		if !errors.Is(err, ErrConfiguration) {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	case ClassTransient:
		if !errors.Is(err, ErrTransient) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

// retryable marks errors that retrying cannot fix as permanent for the job runner
func retryable(err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case ClassReconnect, ClassConfiguration:
		return jobs.Permanent(err)
	}
	return err
}
