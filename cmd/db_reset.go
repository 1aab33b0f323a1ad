package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/WuChenDi/bitk/internal/config"
)

var dbResetCmd = &cobra.Command{
	Use:   "db:reset",
	Short: "Delete the configured database and its WAL siblings",
	Long:  `Deletes DB_PATH and its -wal, -shm, -journal siblings, then reports which paths were actually removed.`,
	RunE:  runDBReset,
}

// dbResetReport is the JSON shape emitted by db:reset.
type dbResetReport struct {
	Timestamp string   `json:"timestamp"`
	Deleted   []string `json:"deleted"`
	Missing   []string `json:"missing"`
}

func runDBReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	paths := []string{cfg.DBPath, cfg.DBPath + "-wal", cfg.DBPath + "-shm", cfg.DBPath + "-journal"}
	report := dbResetReport{Timestamp: time.Now().UTC().Format(time.RFC3339)}

	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			if os.IsNotExist(err) {
				report.Missing = append(report.Missing, p)
				continue
			}
			return fmt.Errorf("removing %s: %w", p, err)
		}
		report.Deleted = append(report.Deleted, p)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
