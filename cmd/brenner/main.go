package main

import (
	"fmt"
	"os"
)

// Version 构建时通过 ldflags 注入
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "brenner: %v\n", err)
		os.Exit(1)
	}
}
