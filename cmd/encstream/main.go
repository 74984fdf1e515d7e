package main

import (
	"os"

	"github.com/thesyncim/encstream/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
