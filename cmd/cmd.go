package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/config"
	"github.com/mgruener/proxybatch/pkg/logging"
)

const version = "1.0.0"

func Cmd() int {
	logging.Init(os.Getenv("PROXYBATCH_LOG_LEVEL"), os.Stdout)

	c := cli.NewCLI("proxybatch", version)
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"":            RunCommandFactory,
		"run":         RunCommandFactory,
		"proxies":     ProxiesCommandFactory,
		"plan":        PlanCommandFactory,
		"extension":   ExtensionCommandFactory,
		"myip":        MyIPCommandFactory,
		"fleet start": FleetStartCommandFactory,
		"fleet stop":  FleetStopCommandFactory,
		"fleet list":  FleetListCommandFactory,
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
	}

	return exitStatus
}

// loadConfig reads the default config file plus environment overrides and
// reports failures the way every command does.
func loadConfig(errOut io.Writer) (*config.Config, bool) {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return nil, false
	}
	return cfg, true
}
