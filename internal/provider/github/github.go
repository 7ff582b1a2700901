package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/provider"
)

const (
	DefaultAPIVersion   = "2022-11-28"
	DefaultTimeout      = 30 * time.Second
	DefaultTouchTimeout = 60 * time.Second
	DefaultTouchGap     = 2 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Config holds the Codespaces client configuration.
type Config struct {
	Token        string
	BaseURL      string        // REST API root; empty means https://api.github.com/
	APIVersion   string        // sent as X-GitHub-Api-Version on every API call
	Timeout      time.Duration // per API call
	TouchTimeout time.Duration // per touch GET
	TouchGap     time.Duration // pause between the two touch GETs
	UserAgent    string        // used for touch GETs only
	Transport    http.RoundTripper
	Logger       *slog.Logger
}

// Client implements provider.Client against the GitHub Codespaces API.
// Resource ids are codespace names, which is what the REST paths take.
type Client struct {
	api    *gh.Client
	touch  http.RoundTripper
	cfg    Config
	logger *slog.Logger
}

var _ provider.Client = (*Client)(nil)

// New creates a Codespaces client authenticated with cfg.Token.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("github token required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TouchTimeout <= 0 {
		cfg.TouchTimeout = DefaultTouchTimeout
	}
	if cfg.TouchGap < 0 {
		cfg.TouchGap = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &versionTransport{base: base, version: cfg.APIVersion},
	}
	api := gh.NewClient(httpClient).WithAuthToken(cfg.Token)
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		api.BaseURL = u
	}
	return &Client{api: api, touch: base, cfg: cfg, logger: cfg.Logger}, nil
}

// ListResources returns every codespace of the authenticated user.
func (c *Client) ListResources(ctx context.Context) ([]provider.ResourceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	opts := &gh.ListCodespacesOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	var out []provider.ResourceInfo
	for {
		page, resp, err := c.api.Codespaces.List(ctx, opts)
		if err != nil {
			return nil, errdefs.Provider("list codespaces", err)
		}
		for _, cs := range page.Codespaces {
			out = append(out, toInfo(cs))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetResource fetches one codespace by name.
func (c *Client) GetResource(ctx context.Context, id string) (provider.ResourceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.api.NewRequest(http.MethodGet, "user/codespaces/"+url.PathEscape(id), nil)
	if err != nil {
		return provider.ResourceInfo{}, errdefs.Provider("get codespace", err)
	}
	var cs gh.Codespace
	resp, err := c.api.Do(ctx, req, &cs)
	if err != nil {
		if isNotFound(resp, err) {
			return provider.ResourceInfo{}, fmt.Errorf("codespace %s: %w", id, errdefs.ErrNotFound)
		}
		return provider.ResourceInfo{}, errdefs.Provider("get codespace "+id, err)
	}
	return toInfo(&cs), nil
}

// StartResource asks GitHub to start a stopped codespace. It does not wait for
// the codespace to become available.
func (c *Client) StartResource(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if _, _, err := c.api.Codespaces.Start(ctx, id); err != nil {
		return errdefs.Provider("start codespace "+id, err)
	}
	c.logger.Info("Requested codespace start", "codespace", id)
	return nil
}

// TouchResource opens the codespace web URL twice, the second time with a
// workspace folder, the way a browser session would. Either request answering
// 200 counts as activity.
func (c *Client) TouchResource(ctx context.Context, id string) error {
	info, err := c.GetResource(ctx, id)
	if err != nil {
		return errdefs.Provider("touch codespace "+id, err)
	}
	if info.WebURL == "" {
		return errdefs.Provider("touch codespace "+id, errors.New("no web url"))
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return errdefs.Provider("touch codespace "+id, err)
	}
	hc := &http.Client{Timeout: c.cfg.TouchTimeout, Jar: jar, Transport: c.touch}

	first, firstErr := c.visit(ctx, hc, info.WebURL)
	if err := sleepCtx(ctx, c.cfg.TouchGap); err != nil {
		return errdefs.Provider("touch codespace "+id, err)
	}
	second, secondErr := c.visit(ctx, hc, withFolder(info.WebURL))

	if first == http.StatusOK || second == http.StatusOK {
		c.logger.Debug("Touched codespace", "codespace", id, "first", first, "second", second)
		return nil
	}
	return errdefs.Provider("touch codespace "+id,
		fmt.Errorf("no 200 response (first: %s, second: %s)", describe(first, firstErr), describe(second, secondErr)))
}

func (c *Client) visit(ctx context.Context, hc *http.Client, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

func toInfo(cs *gh.Codespace) provider.ResourceInfo {
	display := cs.GetDisplayName()
	if display == "" {
		display = cs.GetName()
	}
	return provider.ResourceInfo{
		ID:          cs.GetName(),
		Name:        cs.GetName(),
		DisplayName: display,
		State:       cs.GetState(),
		WebURL:      cs.GetWebURL(),
		LastUsedAt:  cs.GetLastUsedAt().Time,
	}
}

func isNotFound(resp *gh.Response, err error) bool {
	if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var er *gh.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}

func withFolder(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("folder", "/workspaces")
	u.RawQuery = q.Encode()
	return u.String()
}

func describe(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("status %d", status)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// versionTransport pins the REST API version header.
type versionTransport struct {
	base    http.RoundTripper
	version string
}

func (t *versionTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-GitHub-Api-Version", t.version)
	return t.base.RoundTrip(r)
}
