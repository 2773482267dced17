package main

import (
	"os"

	"github.com/aurelia-run/aurelia/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
