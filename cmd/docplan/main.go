package main

import (
	"os"

	"github.com/davan/docplan/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
