package main

import (
	"os"

	"secwaf/cmd/secwaf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
