package main

import (
	"os"

	"github.com/lyzr/signer/cmd/signctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
