package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mgruener/proxybatch/pkg/ipify"
)

// HTTPLauncher is a browserless collaborator. Each session is an HTTP client
// routed through the proxy that sends the identity's headers; the visible
// text is the response body.
type HTTPLauncher struct{}

func (HTTPLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proxyURL, err := url.Parse(opts.Proxy.Server())
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	proxyURL.User = url.UserPassword(opts.Proxy.Username, opts.Proxy.Password)

	transport := &http.Transport{
		Proxy:               http.ProxyURL(proxyURL),
		TLSHandshakeTimeout: opts.Timeout,
		DisableKeepAlives:   true,
	}
	return &httpSession{
		transport: transport,
		client: &http.Client{
			Transport: &identityTransport{base: transport, identity: opts},
		},
	}, nil
}

type identityTransport struct {
	base     http.RoundTripper
	identity Options
}

func (t *identityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.identity.Identity.UserAgent)
	if t.identity.Identity.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", t.identity.Identity.AcceptLanguage)
	}
	return t.base.RoundTrip(req)
}

type httpSession struct {
	transport *http.Transport
	client    *http.Client

	mu     sync.Mutex
	body   string
	closed bool
}

func (s *httpSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	body, err := ipify.Fetch(ctx, s.client, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %w: %w", ErrNavigation, context.DeadlineExceeded, err)
		}
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
	return nil
}

func (s *httpSession) VisibleText(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return strings.TrimSpace(s.body), nil
}

func (s *httpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.transport.CloseIdleConnections()
	}
	return nil
}

func (s *httpSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
