// Package likeco talks to the LikeCoin REST API and its OAuth token
// endpoint.
package likeco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/metrics"
)

// OAuthScopes are requested on every login.
var OAuthScopes = []string{"profile", "email", "read:like.info", "read:civic_liker", "write:civic_liker"}

const maxErrorBody = 4096

// Config holds the endpoints and credentials of the LikeCoin deployment.
type Config struct {
	APIBaseURL   string
	SiteBaseURL  string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	// Transport overrides the HTTP transport, e.g. to add tracing.
	Transport http.RoundTripper
}

// Client calls the LikeCoin API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	oauth      *oauth2.Config
	metrics    *metrics.Metrics
}

func NewClient(cfg Config, m *metrics.Metrics) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.SiteBaseURL = strings.TrimRight(cfg.SiteBaseURL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       OAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.SiteBaseURL + "/in/oauth",
				TokenURL:  cfg.APIBaseURL + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		metrics: m,
	}
}

// StatusError is returned when the API replies with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap classifies the failure for handlers: a missing upstream resource
// is a not-found, anything else is an upstream failure.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return apperr.ErrNotFound
	}
	return apperr.ErrUpstreamUnavailable
}

// IsUnauthorized reports whether err is an HTTP 401 from the API.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// Bearer formats an Authorization header value.
func Bearer(accessToken string) string {
	return "Bearer " + accessToken
}

// request describes one API call.
type request struct {
	method        string
	url           string
	query         url.Values
	body          any
	authorization string
}

func (c *Client) apiURL(path string) string  { return c.cfg.APIBaseURL + path }
func (c *Client) siteURL(path string) string { return c.cfg.SiteBaseURL + path }

// do sends req and returns the raw JSON reply.
func (c *Client) do(ctx context.Context, req request) (json.RawMessage, error) {
	target := req.url
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.authorization != "" {
		httpReq.Header.Set("Authorization", req.authorization)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.Upstream("likeco", 0)
		return nil, fmt.Errorf("%w: %s %s: %v", apperr.ErrUpstreamUnavailable, req.method, req.url, err)
	}
	defer resp.Body.Close()
	c.metrics.Upstream("likeco", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     req.method,
			URL:        req.url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", apperr.ErrUpstreamUnavailable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s %s: invalid JSON reply", apperr.ErrUpstreamUnavailable, req.method, req.url)
	}
	return json.RawMessage(data), nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// RefreshAccessToken trades a refresh token for a new access token. The
// returned token carries a new refresh token when the server rotated it.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ts := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	return tok, nil
}

// ExchangeCode completes the authorization_code grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// AuthURLOptions are the optional parameters of the consent page URL.
type AuthURLOptions struct {
	State      string
	From       string
	Referrer   string
	IsRegister bool
}

// AuthURL returns the like.co consent page URL for this client.
func (c *Client) AuthURL(opts AuthURLOptions) string {
	var params []oauth2.AuthCodeOption
	if opts.From != "" {
		params = append(params, oauth2.SetAuthURLParam("from", opts.From))
	}
	if opts.Referrer != "" {
		params = append(params, oauth2.SetAuthURLParam("referrer", opts.Referrer))
	}
	if opts.IsRegister {
		params = append(params, oauth2.SetAuthURLParam("register", "1"))
	}
	return c.oauth.AuthCodeURL(opts.State, params...)
}

// FailureCause extracts a loggable description from a token endpoint
// failure, preferring the server's reply body.
func FailureCause(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && len(re.Body) > 0 {
		return string(re.Body)
	}
	return err.Error()
}

// IsRejected reports whether the token endpoint answered with an OAuth
// error, as opposed to being unreachable.
func IsRejected(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re)
}
