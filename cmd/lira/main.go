package main

import (
	"os"

	"github.com/nadhif/lira/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
