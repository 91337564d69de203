// Package app provides the entry point for the gsd-sync command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "gsd-sync",
	DisableAutoGenTag: true,
	Short:             "gsd-sync is the zero-knowledge task synchronization server",
	Long: `gsd-sync is the server half of a zero-knowledge multi-device task manager.
It stores only opaque ciphertext and the vector-clock metadata needed to
detect concurrent edits; clients hold the sole decryption keys. The server
handles OAuth sign-in (Google, Apple), session lifecycle, push/pull/resolve
sync, and scheduled retention cleanup.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the gsd-sync CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)

	return rootCmd
}
