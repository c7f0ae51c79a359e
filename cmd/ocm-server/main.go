package main

import (
	"os"

	"ocm.software/open-component-model/server/internal/cmd"
)

func main() {
	if err := cmd.New().Execute(); err != nil {
		os.Exit(1)
	}
}
