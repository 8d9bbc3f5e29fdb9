package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccimen/scc/internal/scerr"
	"github.com/ccimen/scc/internal/sessionstore"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sandbox sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list <workspace> <branch>",
	Short: "List every recorded session for a (workspace, branch) pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sessionStore()
		if err != nil {
			return err
		}
		records, err := store.Records(args[0], args[1])
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Printf("%s\t%s\t%s\n", r.ID, r.Status, r.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}

var sessionsLatestCmd = &cobra.Command{
	Use:   "latest <workspace> <branch>",
	Short: "Show the latest session record for a (workspace, branch) pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := sessionStore()
		if err != nil {
			return err
		}
		rec, ok, err := store.Latest(args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return scerr.NewUsageError("no sessions recorded for this workspace/branch", "")
		}
		fmt.Printf("%s\t%s\t%s\n", rec.ID, rec.Status, rec.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsLatestCmd)
}

func sessionStore() (*sessionstore.Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, scerr.WrapConfigError("resolving home directory", err)
	}
	return sessionstore.NewStore(filepath.Join(home, ".scc", "sessions")), nil
}
