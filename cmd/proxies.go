package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/logging"
	"github.com/mgruener/proxybatch/pkg/proxylist"
)

type ProxiesCommand struct {
	out io.Writer
}

func ProxiesCommandFactory() (cli.Command, error) { return ProxiesCommand{out: os.Stdout}, nil }

func (cmd ProxiesCommand) Help() string {
	return "proxies [file]  # print the valid proxies of [file] (default: the configured proxy file); fails if there are none"
}
func (cmd ProxiesCommand) Synopsis() string { return "proxies [file]" }
func (cmd ProxiesCommand) Run(args []string) int {
	path := ""
	if len(args) > 0 {
		path = args[0]
	} else {
		cfg, ok := loadConfig(os.Stderr)
		if !ok {
			return 1
		}
		path = cfg.ProxyFile
	}

	records, err := proxylist.Load(path, logging.WithComponent("loader"))
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}
	for _, rec := range records {
		fmt.Fprintf(cmd.out, "%s\t%s\n", rec.Server(), rec.Username)
	}
	if len(records) == 0 {
		return 1
	}
	return 0
}
