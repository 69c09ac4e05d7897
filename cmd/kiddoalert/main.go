// Package main is the entry point for the kiddoalert CLI and location agent.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
