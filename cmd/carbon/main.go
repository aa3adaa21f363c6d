// Command carbon captures consistent snapshots of document containers and
// replays them into new containers.
package main

import (
	"fmt"
	"os"

	"github.com/custodia-labs/carbon-cli/internal/adapters/driving/cli"
	"github.com/custodia-labs/carbon-cli/internal/logger"
)

// version is set with -ldflags "-X main.version=...".
var version = ""

func main() {
	os.Exit(run())
}

func run() int {
	app, err := newApp("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "carbon: %v\n", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("closing local store: %v", err)
		}
	}()

	cli.SetVersion(version)
	cli.SetConfig(app.cliConfig())

	if err := cli.Execute(); err != nil {
		return 1
	}
	return 0
}
