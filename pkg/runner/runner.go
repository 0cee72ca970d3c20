// Package runner checks the identity seen through a single proxy in its own
// browser session.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	netwait "github.com/antelman107/net-wait-go/wait"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mgruener/proxybatch/pkg/browser"
	"github.com/mgruener/proxybatch/pkg/ipify"
	"github.com/mgruener/proxybatch/pkg/proxylist"
	"github.com/mgruener/proxybatch/pkg/useragent"
)

type ErrorKind string

const (
	KindUnreachable ErrorKind = "unreachable"
	KindLaunch      ErrorKind = "launch"
	KindNavigate    ErrorKind = "navigate"
	KindTimeout     ErrorKind = "timeout"
	KindExtract     ErrorKind = "extract"
	KindPanic       ErrorKind = "panic"
)

// SessionError is a failed session, tagged with the proxy it ran through.
type SessionError struct {
	Kind  ErrorKind
	Proxy proxylist.Record
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s error with proxy %s: %v", e.Kind, e.Proxy.Original, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Outcome is the result of one session. Err is nil on success.
type Outcome struct {
	SessionID string
	Proxy     proxylist.Record
	Identity  string
	IP        string
	Leaked    bool
	Err       *SessionError
	Started   time.Time
	Finished  time.Time
}

func (o Outcome) OK() bool { return o.Err == nil }

type Config struct {
	IdentityURL string
	Timeout     time.Duration
	MinDwell    time.Duration
	MaxDwell    time.Duration
	Headless    bool
	// CloseAfterUse false keeps every session open until the run context
	// is cancelled.
	CloseAfterUse   bool
	PrecheckTimeout time.Duration
	// BaselineIP is the direct IP of this host. A session reporting it is
	// flagged as leaking.
	BaselineIP string
}

// Prechecker reports whether addr accepts TCP connections within timeout.
type Prechecker func(addr string, timeout time.Duration) bool

type Runner struct {
	cfg      Config
	launcher browser.Launcher
	logger   zerolog.Logger
	precheck Prechecker

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Runner)

func WithRand(rng *rand.Rand) Option {
	return func(r *Runner) { r.rng = rng }
}

func WithPrechecker(p Prechecker) Option {
	return func(r *Runner) { r.precheck = p }
}

func New(cfg Config, launcher browser.Launcher, logger zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger,
		precheck: TCPReachable,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TCPReachable waits up to timeout for addr to accept a connection.
func TCPReachable(addr string, timeout time.Duration) bool {
	waiter := netwait.New(
		netwait.WithDeadline(timeout),
		netwait.WithWait(timeout),
		netwait.WithBreak(250*time.Millisecond),
	)
	return waiter.Do([]string{addr})
}

// Run performs one session through rec. Failures are reported in the
// Outcome, never returned or propagated as panics. The browser session is
// always closed before Run returns.
func (r *Runner) Run(ctx context.Context, rec proxylist.Record) (out Outcome) {
	out = Outcome{
		SessionID: uuid.NewString(),
		Proxy:     rec,
		Started:   time.Now(),
	}
	l := r.logger.With().Str("session", out.SessionID[:8]).Str("proxy", rec.Address()).Logger()

	defer func() {
		if p := recover(); p != nil {
			out.Identity, out.IP = "", ""
			out.Err = &SessionError{Kind: KindPanic, Proxy: rec, Err: fmt.Errorf("%v", p)}
			r.logFailure(l, out.Err)
		}
		out.Finished = time.Now()
	}()

	fail := func(kind ErrorKind, err error) Outcome {
		out.Err = &SessionError{Kind: kind, Proxy: rec, Err: err}
		r.logFailure(l, out.Err)
		return out
	}

	if r.cfg.PrecheckTimeout > 0 && !r.precheck(rec.Address(), r.cfg.PrecheckTimeout) {
		return fail(KindUnreachable, fmt.Errorf("no tcp connection to %s within %s", rec.Address(), r.cfg.PrecheckTimeout))
	}

	identity, dwell := r.draw()
	l.Debug().Str("user_agent", identity.UserAgent).Str("locale", identity.Locale).Msg("Launching browser")

	sess, err := r.launcher.Launch(ctx, browser.Options{
		Proxy:    rec,
		Identity: identity,
		Headless: r.cfg.Headless,
		Timeout:  r.cfg.Timeout,
	})
	if err != nil {
		return fail(KindLaunch, err)
	}
	defer r.release(ctx, l, rec, sess)

	if err := sess.Navigate(ctx, r.cfg.IdentityURL, r.cfg.Timeout); err != nil {
		kind := KindNavigate
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return fail(kind, err)
	}

	text, err := sess.VisibleText(ctx)
	if err != nil {
		return fail(KindExtract, err)
	}
	out.Identity = text
	out.IP = ipify.ParseIdentity(text)
	l.Info().Str("ip", out.IP).Msgf("Current IP via %s: %s", rec.Original, text)

	if r.cfg.BaselineIP != "" && out.IP == r.cfg.BaselineIP {
		out.Leaked = true
		l.Warn().Str("ip", out.IP).Msgf("Proxy %s exposes the direct IP", rec.Original)
	}

	if dwell > 0 {
		l.Debug().Dur("dwell", dwell).Msg("Holding session")
		sleep(ctx, dwell)
	}
	return out
}

// draw picks the session identity and dwell time from the shared source.
func (r *Runner) draw() (useragent.Bundle, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity := useragent.Desktop(r.rng)
	var dwell time.Duration
	if r.cfg.MaxDwell > 0 {
		dwell = r.cfg.MinDwell + time.Duration(r.rng.Int63n(int64(r.cfg.MaxDwell-r.cfg.MinDwell)+1))
	}
	return identity, dwell
}

func (r *Runner) release(ctx context.Context, l zerolog.Logger, rec proxylist.Record, sess browser.Session) {
	if !r.cfg.CloseAfterUse {
		l.Info().Msgf("[%s] Keeping browser open until interrupted", rec.Original)
		<-ctx.Done()
	}
	if err := sess.Close(); err != nil {
		l.Warn().Err(err).Msgf("[%s] Browser close reported errors", rec.Original)
		return
	}
	l.Debug().Msgf("[%s] Browser closed", rec.Original)
}

func (r *Runner) logFailure(l zerolog.Logger, err *SessionError) {
	l.Error().Str("kind", string(err.Kind)).Err(err.Err).Msgf("Error with proxy %s", err.Proxy.Original)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
