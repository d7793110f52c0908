package main

import (
	"os"

	"cdpintercept/cmd/cdpintercept/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
