package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher starts a dedicated playwright driver and Chromium
// process for every session.
type PlaywrightLauncher struct {
	// Args are extra Chromium command line switches.
	Args []string

	runOpts *playwright.RunOptions
}

// NewPlaywrightLauncher returns a launcher that keeps driver output off the
// terminal.
func NewPlaywrightLauncher() *PlaywrightLauncher {
	return &PlaywrightLauncher{
		Args: []string{"--mute-audio", "--disable-blink-features=AutomationControlled"},
		runOpts: &playwright.RunOptions{
			Browsers: []string{"chromium"},
			Verbose:  false,
			Stdout:   io.Discard,
			Stderr:   io.Discard,
		},
	}
}

// Install downloads the driver and Chromium if they are missing.
func (l *PlaywrightLauncher) Install() error {
	if err := playwright.Install(l.runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	pw, err := playwright.Run(l.runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	s := &playwrightSession{pw: pw}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     l.Args,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s.browser = browser

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(opts.Identity.UserAgent),
		Locale:    playwright.String(opts.Identity.Locale),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": opts.Identity.AcceptLanguage,
		},
		Viewport: &playwright.Size{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		},
		Proxy: &playwright.Proxy{
			Server:   opts.Proxy.Server(),
			Username: playwright.String(opts.Proxy.Username),
			Password: playwright.String(opts.Proxy.Password),
		},
		JavaScriptEnabled: playwright.Bool(true),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	s.context = bctx

	page, err := bctx.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.Timeout.Milliseconds()))
	s.page = page

	return s, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	closeOnce sync.Once
	closeErr  error
	closed    bool
	mu        sync.Mutex
}

func (s *playwrightSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}

	gotoOpts := playwright.PageGotoOptions{}
	if timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	if _, err := s.page.Goto(url, gotoOpts); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %w: %w", ErrNavigation, context.DeadlineExceeded, err)
		}
		return fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	return nil
}

func (s *playwrightSession) VisibleText(ctx context.Context) (string, error) {
	if s.isClosed() {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := s.page.InnerText("body")
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases page, context, browser and driver in that order. Errors do
// not stop the chain; all of them are joined.
func (s *playwrightSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		var errs []error
		if s.page != nil {
			errs = append(errs, s.page.Close())
		}
		if s.context != nil {
			errs = append(errs, s.context.Close())
		}
		if s.browser != nil {
			errs = append(errs, s.browser.Close())
		}
		if s.pw != nil {
			errs = append(errs, s.pw.Stop())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *playwrightSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
