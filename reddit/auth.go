package reddit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const tokenURL = "https://www.reddit.com/api/v1/access_token"

// Credentials for a Reddit "script" application acting as a moderator account.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// Validate checks that every credential needed for the password grant is set.
func (c Credentials) Validate() error {
	switch {
	case c.ClientID == "":
		return errors.New("REDDIT_CLIENT_ID is required")
	case c.ClientSecret == "":
		return errors.New("REDDIT_CLIENT_SECRET is required")
	case c.Username == "":
		return errors.New("REDDIT_USERNAME is required")
	case c.Password == "":
		return errors.New("REDDIT_PASSWORD is required")
	case c.UserAgent == "":
		return errors.New("REDDIT_USER_AGENT is required")
	}
	return nil
}

// passwordSource mints tokens with the resource owner password grant. Script
// apps get no refresh token, so an expired token is replaced by a new grant.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

// userAgentTransport sets the User-Agent Reddit requires on every request,
// including token requests.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// NewHTTPClient returns an HTTP client that authenticates as the moderator
// account and renews its token as needed.
func NewHTTPClient(ctx context.Context, creds Credentials) *http.Client {
	base := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &userAgentTransport{base: http.DefaultTransport, userAgent: creds.UserAgent},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	src := oauth2.ReuseTokenSource(nil, &passwordSource{
		ctx:      ctx,
		conf:     conf,
		username: creds.Username,
		password: creds.Password,
	})

	client := oauth2.NewClient(ctx, src)
	client.Timeout = 30 * time.Second
	return client
}
