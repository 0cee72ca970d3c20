package cmd

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/cli"

	"github.com/mgruener/proxybatch/pkg/scheduler"
)

type PlanCommand struct {
	out io.Writer
	rng *rand.Rand
}

func PlanCommandFactory() (cli.Command, error) {
	return PlanCommand{out: os.Stdout, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}, nil
}

func (cmd PlanCommand) Help() string {
	return "plan <total>  # print a sample batch plan for <total> proxies under the configured batch range"
}
func (cmd PlanCommand) Synopsis() string { return "plan <total>" }
func (cmd PlanCommand) Run(args []string) int {
	if len(args) < 1 {
		return cli.RunResultHelp
	}
	total, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, []any{err}...)
		return 1
	}
	if total < 0 {
		return cli.RunResultHelp
	}

	cfg, ok := loadConfig(os.Stderr)
	if !ok {
		return 1
	}

	plan := scheduler.NewPlan(total, cfg.MinPerBatch, cfg.MaxPerBatch, cmd.rng)
	for i, r := range plan.Ranges() {
		fmt.Fprintf(cmd.out, "batch %d: %d sessions (proxies %d to %d)\n", i+1, r[1]-r[0], r[0]+1, r[1])
	}
	if len(plan) > 1 {
		fmt.Fprintf(cmd.out, "%d batches, at least %s of delays\n", len(plan), time.Duration(len(plan)-1)*cfg.Delay)
	}
	return 0
}
