// Copyright 2021 Converter Systems LLC. All rights reserved.

// Command uatcp runs an OPC UA secure channel echo server and sends
// requests to one.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
