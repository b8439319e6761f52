package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiklabs/aik/internal/agent/session"
)

// SessionsCmd inspects the persisted session log.
func SessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			sessions, err := store.ListSessions(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions recorded yet")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s  steps=%d  %q\n",
					s.ID, s.CreatedAt.Format(time.RFC3339), s.Steps, s.Goal)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the step records of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			steps, err := store.Steps(args[0])
			if err != nil {
				return err
			}
			if len(steps) == 0 {
				fmt.Println("no steps recorded for this session")
				return nil
			}
			for _, st := range steps {
				fmt.Printf("step %d [%s] outcome=%s %s\n",
					st.Step, st.WindowTitle, st.Outcome, st.Details)
			}
			return nil
		},
	})

	return cmd
}

func openStore(cmd *cobra.Command) (*session.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return session.Open(cfg.DBPath())
}
