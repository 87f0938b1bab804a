package main

import (
	"github.com/giantswarm/mcp-pkce-authserver/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cli.Execute(version)
}
