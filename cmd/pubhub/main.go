package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/config"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/storage"
)

// Version is reported by the scheduler lock and `pubhub status`
const Version = "0.1.0"

// DefaultUser owns everything created from the command line
const DefaultUser = "local"

var (
	cfgFile string
	dbFlag  string
	userID  string

	cfg    *config.Config
	repos  *storage.Repositories
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "pubhub",
	Short: "Find Reddit conversations where your product is relevant",
	Long: `PubHub scans subreddits for posts and comments that match a project's
keywords, keeps a deduplicated feed of matches, and drafts replies.

Configuration is read from .env, pubhub.yaml and PUBHUB_* environment
variables. The SQLite database lives in .pubhub/ unless --db is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if dbFlag != "" {
			cfg.Storage.Path = dbFlag
		}
		if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		ctx := context.Background()
		opts := cfg.StorageOptions()
		dbPath = opts.Path
		store, err := storage.NewStorage(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		repos = storage.NewRepositories(store)

		if _, err := repos.Profiles.InitProfile(ctx, userID, "", userID); err != nil {
			return fmt.Errorf("failed to initialize profile: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if repos != nil {
			_ = repos.Close()
		}
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./pubhub.yaml or .pubhub/pubhub.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (default: discovered .pubhub/*.db)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", DefaultUser, "User that owns projects and linked accounts")
}

// fail prints err and exits
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if repos != nil {
		_ = repos.Close()
	}
	logger.Sync()
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
