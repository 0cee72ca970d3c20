package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/ipify"
)

type MyIPCommand struct{}

func MyIPCommandFactory() (cli.Command, error) { return MyIPCommand{}, nil }

func (cmd MyIPCommand) Help() string     { return "myip  # print the public IP of this host without a proxy" }
func (cmd MyIPCommand) Synopsis() string { return "myip" }
func (cmd MyIPCommand) Run(args []string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ip, err := ipify.MyIP(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}
	fmt.Println(ip)
	return 0
}
