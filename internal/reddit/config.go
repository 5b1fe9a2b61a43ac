package reddit

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/logger"
)

// DefaultUserAgent identifies the app on every request
const DefaultUserAgent = "PubHub/1.0 (by /u/PubHubApp)"

const (
	DefaultTokenURL      = "https://www.reddit.com/api/v1/access_token"
	DefaultAPIBaseURL    = "https://oauth.reddit.com"
	DefaultPublicBaseURL = "https://www.reddit.com"
)

// MaxPageSize is the listing ceiling imposed by the API
const MaxPageSize = 100

// Clock supplies the current time. Tests inject a fake one.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

// Now implements Clock
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock
var SystemClock Clock = ClockFunc(time.Now)

// Config holds content API settings shared by the token manager and client
type Config struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	RedirectURI  string

	TokenURL      string
	APIBaseURL    string
	PublicBaseURL string

	// Timeout bounds every HTTP call (default: 30s)
	Timeout time.Duration

	HTTPClient *http.Client
	Clock      Clock
	Logger     *zap.SugaredLogger
}

// DefaultConfig returns production endpoints with a 30s per-call timeout
func DefaultConfig() Config {
	return Config{
		UserAgent:     DefaultUserAgent,
		TokenURL:      DefaultTokenURL,
		APIBaseURL:    DefaultAPIBaseURL,
		PublicBaseURL: DefaultPublicBaseURL,
		Timeout:       30 * time.Second,
	}
}

// Validate checks endpoint settings. Missing app credentials are not an
// error here; grants report ErrCredentialsNotConfigured when attempted.
func (c Config) Validate() error {
	if c.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	if c.TokenURL == "" || c.APIBaseURL == "" {
		return fmt.Errorf("token and API base URLs are required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.TokenURL == "" {
		c.TokenURL = d.TokenURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = d.APIBaseURL
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = d.PublicBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
	if c.Logger == nil {
		c.Logger = logger.Get("reddit")
	}
	return c
}

var forumNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,21}$`)

// ValidForumName reports whether name is a legal subreddit name (3-21 of [A-Za-z0-9_])
func ValidForumName(name string) bool {
	return forumNameRegex.MatchString(name)
}
