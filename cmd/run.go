package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/browser"
	"github.com/mgruener/proxybatch/pkg/config"
	"github.com/mgruener/proxybatch/pkg/ipify"
	"github.com/mgruener/proxybatch/pkg/logging"
	"github.com/mgruener/proxybatch/pkg/proxylist"
	"github.com/mgruener/proxybatch/pkg/runner"
	"github.com/mgruener/proxybatch/pkg/scheduler"
)

type RunCommand struct {
	out io.Writer
	// launcher overrides the configured backend.
	launcher browser.Launcher
}

func RunCommandFactory() (cli.Command, error) { return RunCommand{out: os.Stdout}, nil }

func (cmd RunCommand) Help() string {
	return "run [config]  # check every proxy of the proxy file in sequential batches; config defaults to " + config.DefaultFile
}
func (cmd RunCommand) Synopsis() string { return "run [config]" }
func (cmd RunCommand) Run(args []string) int {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}
	logging.Init(cfg.LogLevel, cmd.out)
	l := logging.WithComponent("run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proxies, err := proxylist.Load(cfg.ProxyFile, logging.WithComponent("loader"))
	if err != nil {
		l.Error().Err(err).Msg("FATAL: cannot read proxy file")
		return 1
	}
	if len(proxies) == 0 {
		l.Error().Str("file", cfg.ProxyFile).Msg("No valid proxies to process")
		return 1
	}

	launcher, err := cmd.newLauncher(cfg)
	if err != nil {
		l.Error().Err(err).Msg("Cannot prepare browser backend")
		return 1
	}

	runnerCfg := runner.Config{
		IdentityURL:     cfg.IdentityURL,
		Timeout:         cfg.Timeout,
		MinDwell:        cfg.MinDwell,
		MaxDwell:        cfg.MaxDwell,
		Headless:        cfg.Headless,
		CloseAfterUse:   cfg.CloseAfterUse,
		PrecheckTimeout: cfg.PrecheckTimeout,
	}
	if cfg.DetectLeaks {
		ip, err := ipify.MyIP(ctx)
		if err != nil {
			l.Warn().Err(err).Msg("Cannot determine direct IP, leak detection disabled")
		} else {
			l.Info().Str("ip", ip).Msg("Direct IP")
			runnerCfg.BaselineIP = ip
		}
	}

	sessions := runner.New(runnerCfg, launcher, logging.WithComponent("session"))
	sched := scheduler.New(scheduler.Config{
		MinPerBatch: cfg.MinPerBatch,
		MaxPerBatch: cfg.MaxPerBatch,
		Delay:       cfg.Delay,
	}, sessions, logging.WithComponent("scheduler"))

	summary, err := sched.Run(ctx, proxies)
	l.Info().
		Int("batches", summary.Batches).
		Int("total", summary.Total).
		Int("ok", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("leaked", summary.Leaked).
		Msg("Automation finished")
	if err != nil {
		l.Error().Err(err).Msg("Run aborted")
		return 1
	}
	return 0
}

func (cmd RunCommand) newLauncher(cfg *config.Config) (browser.Launcher, error) {
	if cmd.launcher != nil {
		return cmd.launcher, nil
	}
	switch cfg.Backend {
	case config.BackendHTTP:
		return browser.HTTPLauncher{}, nil
	default:
		pw := browser.NewPlaywrightLauncher()
		if err := pw.Install(); err != nil {
			return nil, err
		}
		return pw, nil
	}
}
