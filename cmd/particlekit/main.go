package main

import (
	"os"

	"github.com/particlekit/particlekit/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
