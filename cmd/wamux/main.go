package main

import (
	"os"

	"github.com/aki/wamux/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
