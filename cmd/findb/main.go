package main

import (
	"os"

	"findb/cmd/findb/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
