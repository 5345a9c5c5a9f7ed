package main

import "github.com/cartouche/internal/cli"

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, buildTime)
	cli.Execute()
}
