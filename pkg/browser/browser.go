// Package browser defines the browser session collaborator used by the
// runner and its implementations.
//
// A Launcher creates one Session per proxy. A Session owns every resource
// behind it (driver, browser process, context, page) and releases all of
// them on Close. Close is idempotent.
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/mgruener/proxybatch/pkg/proxylist"
	"github.com/mgruener/proxybatch/pkg/useragent"
)

var (
	// ErrNavigation wraps every failure of Session.Navigate.
	ErrNavigation = errors.New("navigation failed")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Options configures a new session.
type Options struct {
	Proxy    proxylist.Record
	Identity useragent.Bundle
	Headless bool
	// Timeout is the default timeout of page operations.
	Timeout time.Duration
}

type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

type Session interface {
	// Navigate loads url. Timeouts wrap both ErrNavigation and
	// context.DeadlineExceeded.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// VisibleText returns the rendered text of the page body.
	VisibleText(ctx context.Context) (string, error)
	Close() error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, opts Options) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context, opts Options) (Session, error) {
	return f(ctx, opts)
}

// Defaults shared by the implementations.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)
