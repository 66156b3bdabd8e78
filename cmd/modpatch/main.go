package main

import (
	"fmt"
	"os"

	"github.com/smith-xyz/go-module-patcher/cmd/modpatch/internal"
)

func main() {
	cmd := internal.NewRootCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
