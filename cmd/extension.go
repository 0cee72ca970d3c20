package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/browser/extension"
	"github.com/mgruener/proxybatch/pkg/logging"
	"github.com/mgruener/proxybatch/pkg/proxylist"
)

type ExtensionCommand struct {
	out io.Writer
}

func ExtensionCommandFactory() (cli.Command, error) { return ExtensionCommand{out: os.Stdout}, nil }

func (cmd ExtensionCommand) Help() string {
	return "extension <outdir> [file]  # write a proxy auth Chrome extension zip for every proxy of [file]"
}
func (cmd ExtensionCommand) Synopsis() string { return "extension <outdir> [file]" }
func (cmd ExtensionCommand) Run(args []string) int {
	if len(args) < 1 {
		return cli.RunResultHelp
	}
	dir := args[0]

	path := ""
	if len(args) > 1 {
		path = args[1]
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
		file, err := extension.WriteFile(dir, rec)
		if err != nil {
			fmt.Fprintln(os.Stderr, []any{err}...)
			return 1
		}
		fmt.Fprintln(cmd.out, file)
	}
	return 0
}
