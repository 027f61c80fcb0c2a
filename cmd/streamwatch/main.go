package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/threatstream/internal/version"
)

func main() {
	app := &cli.App{
		Name:  "streamwatch",
		Usage: "Watch the threat event stream and report client-side failures",
		Commands: []*cli.Command{
			watchCmd(),
			statusCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "streamwatch:", err)
		os.Exit(1)
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			fmt.Fprintln(c.App.Writer, version.String())
			return nil
		},
	}
}
