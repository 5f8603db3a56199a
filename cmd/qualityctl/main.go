// Command qualityctl validates item files from the command line.
package main

import (
	"os"

	"github.com/aethelgard/qualitycheck/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	app := &cli.App{Stdout: os.Stdout, Stderr: os.Stderr, Version: version}
	os.Exit(app.Run(os.Args[1:]))
}
