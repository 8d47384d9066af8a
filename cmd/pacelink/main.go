package main

import "github.com/pacelink/pacelink-app/internal/cli"

// Set by goreleaser ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
