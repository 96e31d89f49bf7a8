package main

import (
	"os"

	"github.com/vperret/gridpilot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
