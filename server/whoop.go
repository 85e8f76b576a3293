package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// WHOOP developer API v2 resource paths.
const (
	PathRecovery = "/developer/v2/recovery"
	PathSleep    = "/developer/v2/activity/sleep"
	PathWorkout  = "/developer/v2/activity/workout"
	PathCycle    = "/developer/v2/cycle"
	PathProfile  = "/developer/v2/user/profile/basic"
	PathBody     = "/developer/v2/user/measurement/body"
)

// whoopScopes covers every data category the relay may request. The offline
// scope asks the provider to issue a refresh token with the grant.
var whoopScopes = []string{
	"offline",
	"read:recovery",
	"read:sleep",
	"read:workout",
	"read:cycles",
	"read:profile",
	"read:body_measurement",
}

// WhoopClient talks to the WHOOP OAuth and resource endpoints.
type WhoopClient struct {
	baseURL string
	oauth   *oauth2.Config
	http    *http.Client
	logger  *slog.Logger
}

// NewWhoopClient builds the upstream client from configuration.
func NewWhoopClient(cfg WhoopConfig, logger *slog.Logger) *WhoopClient {
	base := strings.TrimSuffix(cfg.APIBaseURL, "/")
	return &WhoopClient{
		baseURL: base,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       whoopScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/oauth2/auth",
				TokenURL:  base + "/oauth/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http:   &http.Client{Timeout: DefaultUpstreamTimeout},
		logger: logger,
	}
}

// Configured reports whether a client identifier is present.
func (c *WhoopClient) Configured() bool {
	return c.oauth.ClientID != ""
}

// AuthCodeURL constructs the browser-facing authorization URL.
func (c *WhoopClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code for a token set.
func (c *WhoopClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	return tok, nil
}

// Refresh performs a refresh_token grant. The returned token carries a
// refresh token in every case: the newly rotated one when the provider
// issued it, otherwise the one passed in (golang.org/x/oauth2 retains the
// prior refresh token when the response omits one).
func (c *WhoopClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// FetchProfile resolves the WHOOP user behind an access token.
func (c *WhoopClient) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	raw, err := c.FetchObject(ctx, accessToken, PathProfile)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

// FetchRecords calls a collection resource endpoint and unwraps its
// {"records": [...]} envelope.
func (c *WhoopClient) FetchRecords(ctx context.Context, accessToken, path string, query url.Values) ([]json.RawMessage, error) {
	body, err := c.get(ctx, accessToken, path, query)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if envelope.Records == nil {
		envelope.Records = []json.RawMessage{}
	}
	return envelope.Records, nil
}

// FetchObject calls a single-object resource endpoint and returns the raw
// JSON document unmodified.
func (c *WhoopClient) FetchObject(ctx context.Context, accessToken, path string) (json.RawMessage, error) {
	return c.get(ctx, accessToken, path, nil)
}

// FetchRaw relays any resource endpoint without unwrapping the response.
func (c *WhoopClient) FetchRaw(ctx context.Context, accessToken, path string, query url.Values) (json.RawMessage, error) {
	return c.get(ctx, accessToken, path, query)
}

func (c *WhoopClient) get(ctx context.Context, accessToken, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("upstream request failed",
			"path", path,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUpstream, path, resp.StatusCode)
	}

	return body, nil
}

// withHTTPClient routes oauth2 library calls through our timeout-bound client.
func (c *WhoopClient) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// expiryFrom normalizes a token expiry; providers that omit expires_in get a
// conservative one-hour default, matching upstream documentation.
func expiryFrom(tok *oauth2.Token, now time.Time) time.Time {
	if tok.Expiry.IsZero() {
		return now.Add(time.Hour)
	}
	return tok.Expiry
}
