package main

import (
	"auction-engine/internal/cli"
	"auction-engine/utils"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		utils.Fatal("auction-engine exited with error", map[string]any{"error": err.Error()})
	}
}
