package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/scan"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/types"
)

var (
	feedSort    string
	feedStatus  string
	feedLimit   int
	respPersona string
)

var feedCmd = &cobra.Command{
	Use:   "feed <project>",
	Short: "List a project's matched items",
	Long: `List the feed for a project.

Sort orders:
  recent      newest first (default)
  engagement  score plus replies
  relevance   relevance score`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		order, err := storage.ParseSortOrder(feedSort)
		if err != nil {
			fail("%v", err)
		}
		project := mustProject(ctx, args[0])
		a := mustApp()

		items, err := a.coord.Feed(ctx, userID, project.ID, order)
		if err != nil {
			fail("failed to load feed: %v", err)
		}
		items = filterFeed(items, types.FeedStatus(feedStatus), feedLimit)

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(items) == 0 {
			fmt.Printf("\n  %s\n\n", gray("No matches yet. Run 'pubhub scan "+args[0]+"'"))
			return
		}
		fmt.Println()
		for _, item := range items {
			printFeedItem(item)
		}
	},
}

// filterFeed keeps items with status (all when empty), up to limit (all when <= 0)
func filterFeed(items []*types.FeedItem, status types.FeedStatus, limit int) []*types.FeedItem {
	var out []*types.FeedItem
	for _, item := range items {
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func printFeedItem(item *types.FeedItem) {
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	title := item.Title
	if title == "" {
		title = truncateLine(item.Body, 80)
	}
	fmt.Printf("%s [%s] r/%s %s\n", yellow(fmt.Sprintf("%3d", item.RelevanceScore)), item.Status, item.Forum, title)
	fmt.Printf("    %s %s by u/%s, %d points, %d replies\n", gray(item.ID), item.CreatedAt.Format("2006-01-02 15:04"),
		item.Author, item.Score, item.NumReplies)
	fmt.Printf("    %s\n", cyan(item.URL))
	for _, r := range item.Replies {
		fmt.Printf("    %s u/%s (%d): %s\n", gray("↳"), r.Author, r.RelevanceScore, truncateLine(r.Body, 70))
	}
	if item.AIResponse != nil {
		fmt.Printf("    %s %s\n", gray("draft:"), truncateLine(*item.AIResponse, 70))
	}
	fmt.Println()
}

func truncateLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

var respondCmd = &cobra.Command{
	Use:   "respond <project> <item>",
	Short: "Draft a reply to a feed item",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		a := mustApp()

		item, err := a.triggers.GenerateResponse(ctx, scan.ResponseRequest{
			UserID:     userID,
			ProjectID:  project.ID,
			FeedItemID: args[1],
			Persona:    respPersona,
		})
		if err != nil {
			fail("failed to draft response (%s): %v", scan.Classify(err), err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("\n%s Draft for %s\n\n%s\n\n", green("✓"), item.URL, *item.AIResponse)
	},
}

var statusSetCmd = &cobra.Command{
	Use:   "mark <project> <item> <pending|approved|ignored>",
	Short: "Set the workflow status of a feed item",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		a := mustApp()

		item, err := a.coord.SetStatus(ctx, userID, project.ID, args[1], types.FeedStatus(args[2]))
		if err != nil {
			fail("%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is now %s\n", green("✓"), item.ID, item.Status)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <project> <item>",
	Short: "Post an approved draft as a reply",
	Long: `Submit the drafted reply for a feed item as a comment from the linked
account. The item must have a draft; on success its status becomes posted.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		a := mustApp()

		item, err := a.coord.PublishResponse(ctx, userID, project.ID, args[1])
		if err != nil {
			if scan.Classify(err) == scan.ClassReconnect {
				fail("%v\nRun 'pubhub connect <code>' to link an account", err)
			}
			fail("failed to publish: %v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Posted reply to %s\n", green("✓"), item.URL)
	},
}

func init() {
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(statusSetCmd)
	rootCmd.AddCommand(publishCmd)
	feedCmd.Flags().StringVar(&feedSort, "sort", "recent", "Sort order: recent, engagement or relevance")
	feedCmd.Flags().StringVar(&feedStatus, "status", "", "Only show items with this status")
	feedCmd.Flags().IntVar(&feedLimit, "limit", 0, "Maximum items to show (0 = all)")
	respondCmd.Flags().StringVar(&respPersona, "persona", "", "Persona for this draft (default: the project's)")
}
