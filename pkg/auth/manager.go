package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// TokenPath is appended to the catalog URL to form the token endpoint.
const TokenPath = "/oidc/v1/token"

const (
	defaultExpirySkew     = 30 * time.Second
	defaultRefreshTimeout = 30 * time.Second
)

// Fetcher requests a fresh token from the issuer.
type Fetcher func(ctx context.Context) (*oauth2.Token, error)

// Manager caches one access token and refreshes it single-flight.
type Manager struct {
	fetch          Fetcher
	disabled       bool
	skew           time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	httpClient     *http.Client

	mu     sync.RWMutex
	token  *oauth2.Token
	closed bool

	group     singleflight.Group
	refreshes atomic.Int64
	onRefresh func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher replaces the client-credentials grant.
func WithFetcher(f Fetcher) Option {
	return func(m *Manager) { m.fetch = f }
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithExpirySkew treats tokens as expired this long before their expiry.
func WithExpirySkew(d time.Duration) Option {
	return func(m *Manager) { m.skew = d }
}

// WithRefreshTimeout bounds each token request.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.refreshTimeout = d }
}

// WithRefreshHook calls fn once for every token request the Manager issues,
// however many engines share it.
func WithRefreshHook(fn func()) Option {
	return func(m *Manager) { m.onRefresh = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager for cfg. When cfg.WriterDisabled is set the
// Manager is disabled and needs no credentials. Otherwise either a Fetcher
// option or credentials plus catalog_url are required.
func NewManager(cfg config.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		disabled:       cfg.WriterDisabled,
		skew:           defaultExpirySkew,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.disabled || m.fetch != nil {
		return m, nil
	}

	if !cfg.Credentials.IsSet() {
		return nil, ingesterr.New(ingesterr.KindConfiguration, "credentials are required unless writer_disabled is set")
	}
	if cfg.CatalogURL == "" {
		return nil, ingesterr.New(ingesterr.KindConfiguration, "catalog_url is required to obtain tokens")
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.Secret(),
		TokenURL:     strings.TrimRight(cfg.CatalogURL, "/") + TokenPath,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	m.fetch = func(ctx context.Context) (*oauth2.Token, error) {
		if m.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
		}
		return cc.Token(ctx)
	}
	return m, nil
}

// Disabled returns a Manager that never fetches tokens.
func Disabled() *Manager {
	return &Manager{disabled: true, now: time.Now}
}

// IsDisabled reports whether the Manager was built for dry runs.
func (m *Manager) IsDisabled() bool { return m.disabled }

// Refreshes returns how many token requests have been issued.
func (m *Manager) Refreshes() int64 { return m.refreshes.Load() }

// Acquire returns a valid access token, refreshing when the cached one is
// missing or expired. Failures are AuthenticationError; they are Temporary
// when the underlying refresh failure was.
func (m *Manager) Acquire(ctx context.Context) (string, error) {
	if m.disabled {
		return "", nil
	}

	m.mu.RLock()
	tok, closed := m.token, m.closed
	m.mu.RUnlock()
	if closed {
		return "", ingesterr.New(ingesterr.KindAuthentication, "token manager is shut down")
	}
	if m.valid(tok) {
		return tok.AccessToken, nil
	}

	tok, err := m.refresh(ctx, "")
	if err != nil {
		var e *ingesterr.Error
		if errors.As(err, &e) {
			return "", &ingesterr.Error{
				Kind:      ingesterr.KindAuthentication,
				Message:   "acquire token",
				Temporary: e.Temporary,
				Err:       err,
			}
		}
		return "", ingesterr.Wrap(ingesterr.KindAuthentication, err, "acquire token")
	}
	return tok.AccessToken, nil
}

// Refresh forces a new token even if the cached one looks valid. Concurrent
// calls share one request. Failures are TokenRefreshError.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	if m.disabled {
		return "", nil
	}
	m.mu.RLock()
	stale := ""
	if m.token != nil {
		stale = m.token.AccessToken
	}
	m.mu.RUnlock()

	tok, err := m.refresh(ctx, stale)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token if it is still accessToken, so the next
// Acquire refreshes. A token refreshed in the meantime is kept.
func (m *Manager) Invalidate(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil && m.token.AccessToken == accessToken {
		m.token = nil
		slog.Debug("auth: token invalidated")
	}
}

// Close clears the cached token. Later calls to Acquire fail. Close is
// idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.token = nil
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) valid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return m.now().Add(m.skew).Before(tok.Expiry)
}

// refresh runs one token request shared by all concurrent callers. stale is
// the access token the caller considers unusable; if another caller already
// replaced it with a valid token, that token is returned without a request.
//
// The request itself is detached from ctx so a cancelled caller does not
// abort a refresh others are waiting on. ctx only bounds this caller's wait.
func (m *Manager) refresh(ctx context.Context, stale string) (*oauth2.Token, error) {
	ch := m.group.DoChan("token", func() (any, error) {
		m.mu.RLock()
		cur := m.token
		m.mu.RUnlock()
		if m.valid(cur) && cur.AccessToken != stale {
			return cur, nil
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()

		m.refreshes.Add(1)
		if m.onRefresh != nil {
			m.onRefresh()
		}
		start := m.now()
		tok, err := m.fetch(fctx)
		if err != nil {
			rerr := classify(err)
			slog.Warn("auth: token refresh failed", "err", err, "temporary", rerr.Temporary)
			return nil, rerr
		}
		if tok == nil || tok.AccessToken == "" {
			return nil, ingesterr.New(ingesterr.KindTokenRefresh, "token endpoint returned an empty access token")
		}

		m.mu.Lock()
		if !m.closed {
			m.token = tok
		}
		m.mu.Unlock()

		slog.Debug("auth: token refreshed", "expiry", tok.Expiry, "took", m.now().Sub(start))
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return nil, ingesterr.Wrap(ingesterr.KindTokenRefresh, ctx.Err(), "waiting for token refresh")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

// classify maps a token request failure to TokenRefreshError. Rejections by
// the issuer (4xx other than 429) are permanent; throttling, server errors
// and network failures are Temporary.
func classify(err error) *ingesterr.Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		e := ingesterr.Wrap(ingesterr.KindTokenRefresh, err, "token endpoint returned status %d", code)
		if code == http.StatusTooManyRequests || code >= 500 {
			return e.Transient()
		}
		return e
	}
	return ingesterr.Wrap(ingesterr.KindTokenRefresh, err, "token request failed").Transient()
}
