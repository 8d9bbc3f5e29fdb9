package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccimen/scc/internal/exception"
	"github.com/ccimen/scc/internal/id"
	"github.com/ccimen/scc/internal/scerr"
	"github.com/spf13/cobra"
)

var (
	exceptionScope    string
	exceptionReason   string
	exceptionTTL      time.Duration
	exceptionPlugins  []string
	exceptionMCP      []string
	exceptionImages   []string
	exceptionRepoFlag bool
)

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Manage time-bounded policy exceptions",
}

var exceptionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Grant a new time-bounded exception",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := exceptionStoreFor(exceptionRepoFlag)
		if err != nil {
			return err
		}
		e := exception.Exception{
			ID:        id.Generate("exc"),
			Scope:     exception.Scope(exceptionScope),
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(exceptionTTL),
			Reason:    exceptionReason,
			Allow: exception.Allow{
				Plugins:    exceptionPlugins,
				MCPServers: exceptionMCP,
				BaseImages: exceptionImages,
			},
		}
		if err := e.Validate(); err != nil {
			return err
		}
		if err := store.Add(e, time.Now()); err != nil {
			return err
		}
		fmt.Println(e.ID)
		return nil
	},
}

var exceptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List currently active exceptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := exceptionStoreFor(exceptionRepoFlag)
		if err != nil {
			return err
		}
		exceptions, err := store.Load(time.Now())
		if err != nil {
			return err
		}
		for _, e := range exceptions {
			fmt.Printf("%s\t%s\t%s\texpires %s\n", e.ID, e.Scope, e.Reason, e.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var exceptionsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an exception before it expires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := exceptionStoreFor(exceptionRepoFlag)
		if err != nil {
			return err
		}
		return store.Remove(args[0], time.Now())
	},
}

func init() {
	rootCmd.AddCommand(exceptionsCmd)
	exceptionsCmd.AddCommand(exceptionsAddCmd, exceptionsListCmd, exceptionsRemoveCmd)
	exceptionsCmd.PersistentFlags().BoolVar(&exceptionRepoFlag, "repo", false, "operate on the repo-scope store (.scc/exceptions.json) instead of the user-scope one")

	exceptionsAddCmd.Flags().StringVar(&exceptionScope, "scope", "local", "exception scope: local|policy")
	exceptionsAddCmd.Flags().StringVar(&exceptionReason, "reason", "", "human-readable justification")
	exceptionsAddCmd.Flags().DurationVar(&exceptionTTL, "ttl", 24*time.Hour, "how long the exception stays active")
	exceptionsAddCmd.Flags().StringSliceVar(&exceptionPlugins, "allow-plugin", nil, "plugin refs this exception unblocks")
	exceptionsAddCmd.Flags().StringSliceVar(&exceptionMCP, "allow-mcp-server", nil, "MCP server names this exception unblocks")
	exceptionsAddCmd.Flags().StringSliceVar(&exceptionImages, "allow-base-image", nil, "base image refs this exception unblocks (exact match)")
}

func exceptionStoreFor(repoScope bool) (*exception.Store, error) {
	if repoScope {
		dir, err := os.Getwd()
		if err != nil {
			return nil, scerr.WrapConfigError("resolving current directory", err)
		}
		return exception.NewStore(filepath.Join(dir, ".scc", "exceptions.json")), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, scerr.WrapConfigError("resolving home directory", err)
	}
	return exception.NewStore(filepath.Join(home, ".scc", "exceptions.json")), nil
}
