package main

import (
	"os"

	"basalt/internal/cli"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
