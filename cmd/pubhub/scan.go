package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/scan"
)

var scanForums []string

var scanCmd = &cobra.Command{
	Use:   "scan <project>",
	Short: "Deep-scan a project's subreddits",
	Long: `Run a deep scan for a project: list recent posts in each subreddit back
to the tier's lookback window, keep the relevant ones and their relevant
replies, and add new matches to the feed.

The project may be given by id or name. --forum overrides the project's
subreddits for this run.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		a := mustApp()

		res, err := a.triggers.TriggerDeepScan(ctx, scan.DeepScanRequest{
			UserID:    userID,
			ProjectID: project.ID,
			Forums:    scanForums,
		})
		if err != nil {
			fail("scan failed (%s): %v", scan.Classify(err), err)
		}
		printScanResult(project.Name, res)
	},
}

func printScanResult(name string, res *scan.DeepScanResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Scan: "+name+" ==="))
	fmt.Printf("  Keywords: %s\n", gray(strings.Join(res.Keywords, ", ")))
	for _, f := range res.Forums {
		if f.Failed() {
			fmt.Printf("  %s r/%-20s %s\n", red("✗"), f.Forum, red(fmt.Sprintf("%s: %s", f.Class, f.Error)))
			continue
		}
		fmt.Printf("  %s r/%-20s %d scanned, %d matched, %d new\n", green("✓"), f.Forum, f.Scanned, f.Matched, f.NewItems)
	}
	fmt.Printf("\n  Total: %d scanned, %s new\n\n", res.Scanned, green(fmt.Sprintf("%d", res.NewItems)))
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one monitor pass over every eligible project",
	Long: `Run a single monitor pass, the same job 'pubhub serve' runs on its cron
schedule: fetch items newer than each project's watermark and add relevant
ones to the feed.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		res, err := a.triggers.Monitor(context.Background())
		if err != nil {
			fail("monitor pass failed: %v", err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Monitor Pass ==="))
		for _, r := range res.Results {
			switch {
			case r.Error != "":
				fmt.Printf("  %s %s/%s: %s\n", red("✗"), r.UserID, r.ProjectID, r.Error)
			case len(r.FailedForums) > 0:
				fmt.Printf("  %s %s/%s: %d scanned, %d new (failed: %s)\n", yellow("⚠"),
					r.UserID, r.ProjectID, r.Scanned, r.NewItems, strings.Join(r.FailedForums, ", "))
			default:
				fmt.Printf("  %s %s/%s: %d scanned, %d new\n", green("✓"), r.UserID, r.ProjectID, r.Scanned, r.NewItems)
			}
		}
		fmt.Printf("\n  %d projects monitored, %d with new items\n\n", res.ProjectsMonitored, res.ProjectsWithNewItems)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(monitorCmd)
	scanCmd.Flags().StringSliceVar(&scanForums, "forum", nil, "Subreddit to scan instead of the project's (repeatable)")
}
