package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgruener/proxybatch/pkg/browser"
	"github.com/mgruener/proxybatch/pkg/proxylist"
)

type fakeSession struct {
	navigateErr error
	text        string
	textErr     error
	panicOnText bool
	closes      atomic.Int32
}

func (s *fakeSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return s.navigateErr
}

func (s *fakeSession) VisibleText(ctx context.Context) (string, error) {
	if s.panicOnText {
		panic("driver crashed")
	}
	return s.text, s.textErr
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeLauncher struct {
	session  *fakeSession
	err      error
	launches atomic.Int32
	lastOpts browser.Options
}

func (l *fakeLauncher) Launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	l.launches.Add(1)
	l.lastOpts = opts
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

var testProxy = proxylist.Record{Host: "1.2.3.4", Port: 8080, Username: "a", Password: "b", Original: "a:b@1.2.3.4:8080"}

func baseConfig() Config {
	return Config{
		IdentityURL:   "https://httpbin.org/ip",
		Timeout:       time.Second,
		Headless:      true,
		CloseAfterUse: true,
	}
}

func newTestRunner(cfg Config, l browser.Launcher, opts ...Option) *Runner {
	opts = append([]Option{WithRand(rand.New(rand.NewSource(7)))}, opts...)
	return New(cfg, l, zerolog.Nop(), opts...)
}

func TestRun_Success(t *testing.T) {
	sess := &fakeSession{text: `{"origin": "203.0.113.5"}`}
	launcher := &fakeLauncher{session: sess}

	out := newTestRunner(baseConfig(), launcher).Run(context.Background(), testProxy)

	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, "203.0.113.5", out.IP)
	assert.Equal(t, `{"origin": "203.0.113.5"}`, out.Identity)
	assert.Equal(t, testProxy, out.Proxy)
	assert.NotEmpty(t, out.SessionID)
	assert.False(t, out.Finished.Before(out.Started))
	assert.EqualValues(t, 1, sess.closes.Load())

	assert.Equal(t, testProxy, launcher.lastOpts.Proxy)
	assert.True(t, launcher.lastOpts.Headless)
	assert.Contains(t, launcher.lastOpts.Identity.UserAgent, "Chrome/")
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name        string
		launcher    *fakeLauncher
		kind        ErrorKind
		wantRelease bool
	}{
		{
			name:        "navigation timeout",
			launcher:    &fakeLauncher{session: &fakeSession{navigateErr: fmt.Errorf("%w: %w", browser.ErrNavigation, context.DeadlineExceeded)}},
			kind:        KindTimeout,
			wantRelease: true,
		},
		{
			name:        "navigation error",
			launcher:    &fakeLauncher{session: &fakeSession{navigateErr: fmt.Errorf("%w: 407 proxy auth", browser.ErrNavigation)}},
			kind:        KindNavigate,
			wantRelease: true,
		},
		{
			name:        "extract error",
			launcher:    &fakeLauncher{session: &fakeSession{textErr: errors.New("no body")}},
			kind:        KindExtract,
			wantRelease: true,
		},
		{
			name:        "driver panic",
			launcher:    &fakeLauncher{session: &fakeSession{panicOnText: true}},
			kind:        KindPanic,
			wantRelease: true,
		},
		{
			name:     "launch error",
			launcher: &fakeLauncher{session: &fakeSession{}, err: errors.New("chromium missing")},
			kind:     KindLaunch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out Outcome
			require.NotPanics(t, func() {
				out = newTestRunner(baseConfig(), tt.launcher).Run(context.Background(), testProxy)
			})

			require.False(t, out.OK())
			assert.Equal(t, tt.kind, out.Err.Kind)
			assert.Equal(t, testProxy, out.Err.Proxy)
			assert.Contains(t, out.Err.Error(), testProxy.Original)
			assert.Empty(t, out.IP)

			want := int32(0)
			if tt.wantRelease {
				want = 1
			}
			assert.Equal(t, want, tt.launcher.session.closes.Load())
		})
	}
}

func TestRun_PrecheckFailureSkipsLaunch(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	cfg := baseConfig()
	cfg.PrecheckTimeout = 10 * time.Millisecond

	var checked string
	out := newTestRunner(cfg, launcher, WithPrechecker(func(addr string, timeout time.Duration) bool {
		checked = addr
		return false
	})).Run(context.Background(), testProxy)

	require.False(t, out.OK())
	assert.Equal(t, KindUnreachable, out.Err.Kind)
	assert.Equal(t, "1.2.3.4:8080", checked)
	assert.Zero(t, launcher.launches.Load())
}

func TestRun_Leak(t *testing.T) {
	cfg := baseConfig()
	cfg.BaselineIP = "198.51.100.1"
	launcher := &fakeLauncher{session: &fakeSession{text: "198.51.100.1"}}

	out := newTestRunner(cfg, launcher).Run(context.Background(), testProxy)
	require.True(t, out.OK())
	assert.True(t, out.Leaked)
}

func TestRun_Dwell(t *testing.T) {
	cfg := baseConfig()
	cfg.MinDwell = 40 * time.Millisecond
	cfg.MaxDwell = 40 * time.Millisecond
	sess := &fakeSession{text: "203.0.113.5"}

	out := newTestRunner(cfg, &fakeLauncher{session: sess}).Run(context.Background(), testProxy)
	require.True(t, out.OK())
	assert.GreaterOrEqual(t, out.Finished.Sub(out.Started), 40*time.Millisecond)
	assert.EqualValues(t, 1, sess.closes.Load())
}

func TestRun_KeepOpenUntilCancelled(t *testing.T) {
	cfg := baseConfig()
	cfg.CloseAfterUse = false
	sess := &fakeSession{text: "203.0.113.5"}
	r := newTestRunner(cfg, &fakeLauncher{session: sess})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome)
	go func() { done <- r.Run(ctx, testProxy) }()

	select {
	case <-done:
		t.Fatal("session returned while it should be held open")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, sess.closes.Load())

	cancel()
	out := <-done
	assert.True(t, out.OK())
	assert.EqualValues(t, 1, sess.closes.Load())
}

func TestRun_HTTPBackendThroughProxy(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Proxy-Authorization") == "" {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		_, _ = w.Write([]byte("{\n  \"origin\": \"192.0.2.77\"\n}\n"))
	}))
	defer proxy.Close()

	host, portStr, err := net.SplitHostPort(proxy.Listener.Addr().String())
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)
	rec, err := proxylist.ParseLine(proxylist.Format("a", "b", host, port))
	require.NoError(t, err)

	cfg := baseConfig()
	cfg.IdentityURL = "http://httpbin.invalid/ip"
	cfg.PrecheckTimeout = time.Second

	out := New(cfg, browser.HTTPLauncher{}, zerolog.Nop()).Run(context.Background(), rec)
	require.True(t, out.OK(), "%v", out.Err)
	assert.Equal(t, "192.0.2.77", out.IP)
}
