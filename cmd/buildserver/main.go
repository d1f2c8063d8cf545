// Package main is the single-binary entrypoint for the build server.
package main

import "github.com/sim-publish/buildserver/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
