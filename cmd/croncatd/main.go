package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/croncatd/croncatd/cmd/croncatd/command"
	"github.com/croncatd/croncatd/internal/config"
)

var app = &cli.App{
	Name:    "croncatd",
	Usage:   "standalone scheduling and dispatch daemon",
	Version: config.Version,
	Commands: []*cli.Command{
		command.ServeCommand,
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
