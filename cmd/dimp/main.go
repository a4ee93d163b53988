package main

import (
	"os"

	"github.com/TheusHen/dimp/cmd/dimp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
