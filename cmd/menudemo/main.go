package main

import (
	"os"

	"github.com/m3rciful/telemenu/cmd/menudemo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
