package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/auth"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/server"
	"github.com/steveyegge/pubhub/internal/storage"
)

var serveNoScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the monitor scheduler",
	Long: `Serve the authenticated HTTP API and run the monitor pass on its cron
schedule until interrupted.

Only one scheduler may run per data directory. A second 'pubhub serve'
against the same database fails unless --no-scheduler is given.

Requires server.jwt_secret (PUBHUB_SERVER_JWT_SECRET).`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Server.JWTSecret == "" {
			fail("server.jwt_secret is required (set PUBHUB_SERVER_JWT_SECRET)")
		}
		authn, err := auth.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
		if err != nil {
			fail("%v", err)
		}

		a := mustApp()
		log := logger.Get("pubhub")

		if !serveNoScheduler {
			lockPath, err := acquireScheduler()
			if err != nil {
				fail("%v", err)
			}
			defer func() {
				if err := storage.ReleaseSchedulerLock(lockPath); err != nil {
					log.Warnw("failed to release scheduler lock", "error", err)
				}
			}()
			a.runner.Start()
			defer a.runner.Stop()
			for _, entry := range a.runner.Entries() {
				log.Infow("monitor scheduled", "next", entry.Next)
			}
		}

		srv, err := server.New(server.Config{
			Addr:    cfg.Server.Addr,
			Auth:    authn,
			Scanner: a.triggers,
			Feed:    a.coord,
			Logger:  logger.Get("server"),
		})
		if err != nil {
			fail("%v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s PubHub %s listening on %s\n", green("●"), Version, cfg.Server.Addr)

		if err := srv.ListenAndServe(ctx); err != nil {
			log.Errorw("server stopped", "error", err)
			os.Exit(1)
		}
	},
}

// schedulerDir is the directory holding the scheduler lock: next to the
// SQLite database, or ./.pubhub for postgres
func schedulerDir() (string, error) {
	if storage.Backend(cfg.Storage.Backend) != storage.BackendSQLite {
		return storage.DataDir, nil
	}
	return storage.GetDataDir(dbPath)
}

func acquireScheduler() (string, error) {
	dir, err := schedulerDir()
	if err != nil {
		return "", err
	}
	return storage.AcquireSchedulerLock(dir, storage.SchedulerLock{
		Version:  Version,
		Database: dbPath,
		Schedule: cfg.Scan.MonitorSchedule,
		Addr:     cfg.Server.Addr,
	})
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for the user",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		authn, err := auth.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
		if err != nil {
			fail("%v (set PUBHUB_SERVER_JWT_SECRET)", err)
		}
		profile, err := repos.Profiles.Get(context.Background(), userID)
		if err != nil {
			fail("%v", err)
		}
		token, err := authn.IssueToken(auth.AuthenticatedUser{ID: profile.ID, Email: profile.Email, Name: profile.Name}, tokenTTL)
		if err != nil {
			fail("%v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Serve the API without running the monitor cron")
}
