package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiklabs/aik/internal/agent/desktop"
	"github.com/aiklabs/aik/internal/agent/session"
)

// DoctorCmd checks that the environment can actually run the agent.
func DoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and environment problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ok := true
			check := func(name string, pass bool, detail string) {
				mark := "ok"
				if !pass {
					mark = "FAIL"
					ok = false
				}
				fmt.Printf("%-28s %-4s %s\n", name, mark, detail)
			}

			keys := cfg.Credentials()
			check("credentials", len(keys) > 0,
				fmt.Sprintf("%d key(s) for provider %s", len(keys), cfg.Provider))

			dirErr := cfg.EnsureDataDir()
			check("data directory", dirErr == nil, cfg.DataDir)

			store, dbErr := session.Open(cfg.DBPath())
			if dbErr == nil {
				store.Close()
			}
			check("session log", dbErr == nil, cfg.DBPath())

			displays := desktop.ActiveDisplays()
			check("displays", displays > cfg.Monitor,
				fmt.Sprintf("%d available, capturing #%d", displays, cfg.Monitor))

			if !ok {
				return fmt.Errorf("environment is not ready")
			}
			fmt.Println("all checks passed")
			return nil
		},
	}
}
