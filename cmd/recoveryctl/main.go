package main

import (
	"fmt"
	"os"

	"recovery-caller/cmd/recoveryctl/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
