package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/events"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account, projects and scan state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== PubHub Status ==="))

		fmt.Printf("%s\n", yellow("Setup:"))
		fmt.Printf("  Version:   %s\n", Version)
		fmt.Printf("  Storage:   %s %s\n", cfg.Storage.Backend, gray(dbPath))
		if cfg.DemoMode {
			fmt.Printf("  Mode:      %s\n", yellow("demo (public feeds, no account)"))
		} else if cfg.Reddit.ClientID == "" {
			fmt.Printf("  App:       %s set REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET\n", red("✗"))
		} else {
			fmt.Printf("  App:       %s %s\n", green("✓"), cfg.Reddit.ClientID)
		}
		fmt.Printf("  Scheduler: %s\n", describeScheduler())
		if cfg.AI.APIKey == "" {
			fmt.Printf("  Drafts:    %s\n", gray("disabled (no ANTHROPIC_API_KEY)"))
		} else {
			fmt.Printf("  Drafts:    %s\n", green("enabled"))
		}
		fmt.Println()

		profile, err := repos.Profiles.Get(ctx, userID)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s\n", yellow("Account:"))
		fmt.Printf("  User:     %s (%s, %d-day lookback)\n", profile.ID, profile.Tier, profile.Tier.LookbackDays())
		fmt.Printf("  Reddit:   %s\n", describeCredential(profile.Reddit, time.Now()))
		fmt.Println()

		projects, err := repos.Projects.List(ctx, userID)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s\n", yellow("Projects:"))
		if len(projects) == 0 {
			fmt.Printf("  %s\n\n", gray("None"))
			return
		}
		for _, p := range projects {
			items, err := repos.Feed.List(ctx, p.ID)
			if err != nil {
				fail("%v", err)
			}
			counts := make(map[types.FeedStatus]int)
			for _, item := range items {
				counts[item.Status]++
			}
			mark, err := repos.Watermarks.Get(ctx, p.ID, time.Time{})
			if err != nil {
				fail("%v", err)
			}

			fmt.Printf("  %s %s\n", cyan(p.Name), gray(p.ID))
			fmt.Printf("    Feed:      %d items (%d pending, %d approved, %d posted)\n", len(items),
				counts[types.StatusPending], counts[types.StatusApproved], counts[types.StatusPosted])
			if mark.IsZero() {
				fmt.Printf("    Monitored: %s\n", gray("never"))
			} else {
				fmt.Printf("    Monitored: through %s\n", mark.Local().Format("2006-01-02 15:04"))
			}

			recent, err := repos.Events.List(ctx, p.ID, 1)
			if err != nil {
				fail("%v", err)
			}
			if len(recent) > 0 {
				fmt.Printf("    Last:      %s\n", describeEvent(recent[0]))
			}
		}
		fmt.Println()
	},
}

func describeScheduler() string {
	gray := color.New(color.FgHiBlack).SprintFunc()
	dir, err := schedulerDir()
	if err != nil {
		return gray("n/a")
	}
	lock, err := storage.ReadSchedulerLock(dir)
	if err != nil {
		return err.Error()
	}
	if lock == nil {
		return gray("not running (start with 'pubhub serve')")
	}
	return fmt.Sprintf("%s PID %d on %s, %q, since %s", color.New(color.FgGreen).Sprint("●"),
		lock.PID, lock.Hostname, lock.Schedule, lock.StartedAt.Local().Format("2006-01-02 15:04"))
}

// describeCredential summarizes a linked credential
func describeCredential(cred *types.UserCredential, now time.Time) string {
	if cred == nil {
		return color.New(color.FgHiBlack).Sprint("not linked (run 'pubhub connect <code>')")
	}
	name := cred.Username
	if name == "" {
		name = "(unknown)"
	}
	if cred.ExpiresWithin(now, 0) {
		return fmt.Sprintf("u/%s, access token expired (refreshes on next use)", name)
	}
	return fmt.Sprintf("u/%s, access token valid for %v", name, cred.ExpiresAt.Sub(now).Round(time.Minute))
}

func describeEvent(e *events.ScanEvent) string {
	gray := color.New(color.FgHiBlack).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	msg := e.Message
	if e.Type == events.EventTypeScanFailed || e.Type == events.EventTypeForumFailed {
		msg = red(msg)
	}
	return fmt.Sprintf("%s %s %s", gray(e.Timestamp.Local().Format("01-02 15:04:05")), e.Type, msg)
}

var activityLimit int

var activityCmd = &cobra.Command{
	Use:   "activity <project>",
	Short: "Show recent scan events for a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		list, err := repos.Events.List(ctx, project.ID, activityLimit)
		if err != nil {
			fail("%v", err)
		}
		if len(list) == 0 {
			fmt.Printf("%s\n", color.New(color.FgHiBlack).Sprint("No scan activity yet"))
			return
		}
		// Oldest first reads like a log
		for i := len(list) - 1; i >= 0; i-- {
			fmt.Println(describeEvent(list[i]))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(activityCmd)
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "Number of events to show")
}
