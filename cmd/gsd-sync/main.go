// Package main is the entry point for the sync server.
package main

import (
	"os"

	"github.com/vscarpenter/gsd-task-manager-sub001/cmd/gsd-sync/app"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
