package main

import (
	"os"

	"github.com/solatis/sievefold/cmd/sievefold/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
