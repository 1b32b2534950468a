package main

import (
	"os"

	"agentdash/cli"
)

const Version = "v0.01.00"

func main() {
	cli.Version = Version
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
