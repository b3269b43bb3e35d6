package main

import (
	"os"

	"github.com/fastygo/identity/cmd/identityctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
