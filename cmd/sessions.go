package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/store"
	"github.com/nextlevelbuilder/agentcore/internal/store/pg"
	"github.com/nextlevelbuilder/agentcore/internal/store/sqlite"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted session state",
	}
	cmd.AddCommand(sessionsInspectCmd())
	return cmd
}

func sessionsInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <session-key>",
		Short: "Print a session's persisted metadata and pending-compaction status",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runSessionsInspect(args[0])
		},
	}
}

func runSessionsInspect(sessionKey string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %s\n", err)
		os.Exit(1)
	}

	st, err := openSessionStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store open: %s\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	meta, err := st.GetSessionMeta(ctx, sessionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get session meta: %s\n", err)
		os.Exit(1)
	}
	if meta == nil {
		fmt.Printf("session %q: no persisted metadata\n", sessionKey)
	} else {
		fmt.Printf("session %q\n", sessionKey)
		fmt.Printf("  engine:       %s\n", meta.EngineID)
		fmt.Printf("  model:        %s\n", meta.Model)
		fmt.Printf("  cwd:          %s\n", meta.Cwd)
		fmt.Printf("  last_channel: %s\n", meta.LastChannel)
		fmt.Printf("  updated_at:   %s\n", meta.UpdatedAt)
	}

	pc, err := st.GetPendingCompaction(ctx, sessionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get pending compaction: %s\n", err)
		return
	}
	if pc == nil {
		fmt.Println("  pending_compaction: none")
	} else {
		fmt.Printf("  pending_compaction: reason=%s created_at=%s\n", pc.Reason, pc.CreatedAt)
	}
}

func openSessionStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "postgres" && cfg.Database.PostgresDSN != "" {
		return pg.Open(cfg.Database.PostgresDSN)
	}
	path := cfg.Database.SqlitePath
	if path == "" {
		path = "agentcore.db"
	}
	return sqlite.Open(path)
}
