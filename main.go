package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/websentry/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
