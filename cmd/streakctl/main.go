package main

import (
	"fmt"
	"os"

	"example.com/streaks/internal/config"
)

var Version = "dev"

func main() {
	root := newRootCmd(config.Load())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
