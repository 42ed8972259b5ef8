package main

import (
	"os"

	"github.com/rustyeddy/evobot/cmd/evobot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
