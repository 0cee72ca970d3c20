package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/logging"
	"github.com/mgruener/proxybatch/pkg/proxyfleet"
	"github.com/mgruener/proxybatch/pkg/proxyfleet/hetzner"
	"github.com/mgruener/proxybatch/pkg/proxylist"
)

// newFleet builds the Hetzner fleet from the configuration. Fleet proxies
// always require credentials so their output can be fed to the runner.
func newFleet() (proxyfleet.ProxyFleet, bool) {
	cfg, ok := loadConfig(os.Stderr)
	if !ok {
		return nil, false
	}
	if cfg.Fleet.Token == "" {
		fmt.Fprintln(os.Stderr, []any{"must set environment variable HETZNER_TOKEN"}...)
		return nil, false
	}
	if cfg.Fleet.Username == "" || cfg.Fleet.Password == "" {
		fmt.Fprintln(os.Stderr, []any{"must set fleet username and password ([fleet] section or PROXYBATCH_FLEET_USERNAME/PROXYBATCH_FLEET_PASSWORD)"}...)
		return nil, false
	}

	return hetzner.New(hetzner.Options{
		Credentials: proxyfleet.Credentials{
			Username: cfg.Fleet.Username,
			Password: cfg.Fleet.Password,
			Port:     cfg.Fleet.Port,
		},
		Image:      cfg.Fleet.Image,
		SSHKeyName: cfg.Fleet.SSHKey,
		Logger:     logging.WithComponent("fleet"),
	}, hcloud.WithToken(cfg.Fleet.Token)), true
}

func printProxies(records []proxylist.Record) {
	for _, rec := range records {
		fmt.Println(rec.Original)
	}
}

type FleetListCommand struct{}

func FleetListCommandFactory() (cli.Command, error) { return FleetListCommand{}, nil }

func (cmd FleetListCommand) Help() string {
	return "fleet list [count]  # list <count> proxies as proxy file lines; not specifying a count returns all proxies"
}
func (cmd FleetListCommand) Synopsis() string { return "fleet list [count]" }
func (cmd FleetListCommand) Run(args []string) int {
	count := -1
	if len(args) > 0 {
		var err error
		count, err = strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, []any{err}...)
			return 1
		}
	}

	pmgr, ok := newFleet()
	if !ok {
		return 1
	}
	records, err := pmgr.GetProxies(count)
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}

	printProxies(records)
	return 0
}

type FleetStartCommand struct{}

func FleetStartCommandFactory() (cli.Command, error) { return FleetStartCommand{}, nil }

func (cmd FleetStartCommand) Help() string {
	return "fleet start <count>  # ensure <count> proxies are running and print them as proxy file lines"
}
func (cmd FleetStartCommand) Synopsis() string { return "fleet start <count>" }
func (cmd FleetStartCommand) Run(args []string) int {
	if len(args) < 1 {
		return cli.RunResultHelp
	}

	count, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}
	if count < 1 {
		return cli.RunResultHelp
	}

	pmgr, ok := newFleet()
	if !ok {
		return 1
	}
	records, err := pmgr.EnsureProxies(uint(count), uint(count))
	printProxies(records)
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}

	return 0
}

type FleetStopCommand struct{}

func FleetStopCommandFactory() (cli.Command, error) { return FleetStopCommand{}, nil }

func (cmd FleetStopCommand) Help() string {
	return "fleet stop <count>  # stop <count> proxies; -1 stops all proxies; prints the remaining proxies"
}
func (cmd FleetStopCommand) Synopsis() string { return "fleet stop <count>" }
func (cmd FleetStopCommand) Run(args []string) int {
	if len(args) < 1 {
		return cli.RunResultHelp
	}

	count, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}

	pmgr, ok := newFleet()
	if !ok {
		return 1
	}
	records, err := pmgr.DespawnProxies(count)
	printProxies(records)
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}

	return 0
}
