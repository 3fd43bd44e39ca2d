// Package main is the entry point for the hlsplay application.
package main

import (
	"os"

	"github.com/avalon-stream/hlsplay/cmd/hlsplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
