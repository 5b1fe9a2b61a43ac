package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/ai"
	"github.com/steveyegge/pubhub/internal/scan"
)

var (
	draftGuidance string
	draftEnhance  bool
)

var keywordsCmd = &cobra.Command{
	Use:   "keywords <project>",
	Short: "Generate and save keywords from the project description",
	Long: `Ask the text generator for search keywords based on the project's
description and save them on the project. Without a generator, or when its
reply cannot be parsed, keywords are extracted from the description directly.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		a := mustApp()

		keywords, err := a.triggers.GenerateKeywords(ctx, scan.KeywordsRequest{
			UserID:    userID,
			ProjectID: project.ID,
		})
		if err != nil {
			fail("failed to generate keywords: %v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Saved %d keywords for %s\n  %s\n", green("✓"), len(keywords), project.Name, strings.Join(keywords, ", "))
	},
}

var draftCmd = &cobra.Command{
	Use:   "draft <project> <subreddit>",
	Short: "Draft a new post for a subreddit",
	Long: `Generate a post about the project written for a subreddit's audience.
With --enhance, --guidance is treated as an existing draft to improve.
Drafts are printed, never posted.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		a := mustApp()
		if a.generator == nil {
			fail("text generation is not configured (set ANTHROPIC_API_KEY)")
		}
		forum := strings.TrimPrefix(args[1], "r/")
		if err := checkForums([]string{forum}); err != nil {
			fail("%v", err)
		}

		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		text, err := a.generator.Generate(ctx, ai.PostPrompt(project, forum, draftGuidance, draftEnhance))
		if err != nil {
			fail("failed to draft post: %v", err)
		}
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n%s\n\n", cyan("=== Draft for r/"+forum+" ==="), ai.SanitizeResponse(text))
	},
}

var forumCmd = &cobra.Command{
	Use:   "forum <subreddit>",
	Short: "Show subreddit details",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		if a.client == nil {
			fail("subreddit details need API credentials; unavailable in demo mode")
		}
		forum := strings.TrimPrefix(args[0], "r/")
		if err := checkForums([]string{forum}); err != nil {
			fail("%v", err)
		}
		ctx := context.Background()
		token, err := a.tokens.ServiceToken(ctx)
		if err != nil {
			fail("failed to get app token: %v", err)
		}
		info, err := a.client.ForumInfo(ctx, token, forum)
		if err != nil {
			fail("%v", err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s %s\n", cyan("r/"+info.Name), info.Title)
		if info.Description != "" {
			fmt.Printf("  %s\n", info.Description)
		}
		fmt.Printf("  Subscribers: %d\n", info.Subscribers)
		fmt.Printf("  Active:      %d\n", info.ActiveUsers)
		fmt.Printf("  Posts:       %s\n", info.SubmissionType)
		if info.Over18 {
			fmt.Printf("  %s\n", yellow("NSFW"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(keywordsCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(forumCmd)
	draftCmd.Flags().StringVar(&draftGuidance, "guidance", "", "What the post should cover, or the draft to enhance")
	draftCmd.Flags().BoolVar(&draftEnhance, "enhance", false, "Improve --guidance instead of writing from scratch")
}
