package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/cleanup"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/config"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/logger"
	"github.com/vscarpenter/gsd-task-manager-sub001/pkg/storage/sqlite"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the retention cleanup once and exit",
	Long: `Runs the three retention passes (expired tombstones, resolved
conflicts past their audit window, long-revoked devices) once against the
configured database. Intended for external schedulers; the serve command
runs the same job on an internal timer.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		store, err := sqlite.NewStore(cmd.Context(), cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warnf("closing database: %v", err)
			}
		}()

		res := cleanup.New(store).Run(cmd.Context())
		fmt.Printf("purged %d tombstones, %d resolved conflicts, %d stale devices\n",
			res.Tombstones, res.ResolvedConflicts, res.StaleDevices)
		return nil
	},
}
