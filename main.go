package main

import (
	"os"

	"github.com/mgruener/proxybatch/cmd"
)

func main() {
	os.Exit(cmd.Cmd())
}
