package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pubhub/internal/types"
)

var connectCmd = &cobra.Command{
	Use:   "connect <code>",
	Short: "Link a Reddit account from an authorization code",
	Long: `Exchange an OAuth authorization code for a token pair and store it on
the user's profile. Linked accounts scan with their own rate budget and can
publish drafted replies.

The code comes from the redirect after authorizing the app at the
reddit.redirect_uri configured for it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustApp()
		if a.tokens == nil {
			fail("accounts cannot be linked in demo mode")
		}
		ctx := context.Background()

		cred, err := a.tokens.ExchangeCode(ctx, args[0], cfg.Reddit.RedirectURI)
		if err != nil {
			fail("failed to exchange code: %v", err)
		}
		id, err := a.client.Identity(ctx, cred.AccessToken)
		if err != nil {
			fail("failed to look up account: %v", err)
		}
		cred.Username = id.Name
		if err := repos.Profiles.SaveCredential(ctx, userID, cred); err != nil {
			fail("failed to save credential: %v", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Linked u/%s (scope: %s)\n", green("✓"), cred.Username, cred.Scope)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Forget the linked Reddit account",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := repos.Profiles.Disconnect(context.Background(), userID); err != nil {
			fail("%v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Account unlinked\n", green("✓"))
	},
}

var tierCmd = &cobra.Command{
	Use:   "tier <free|basic|pro>",
	Short: "Set the user's subscription tier",
	Long: `Set the tier that bounds deep-scan lookback (free 1 day, basic 30,
pro 90) and the number of projects. Existing projects take the new tier.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tier := types.Tier(args[0])
		if !tier.IsValid() {
			fail("unknown tier %q (want free, basic or pro)", args[0])
		}
		ctx := context.Background()
		profile, err := repos.Profiles.Get(ctx, userID)
		if err != nil {
			fail("%v", err)
		}
		profile.Tier = tier
		if err := repos.Profiles.Save(ctx, profile); err != nil {
			fail("%v", err)
		}

		projects, err := repos.Projects.List(ctx, userID)
		if err != nil {
			fail("%v", err)
		}
		for _, p := range projects {
			p.Tier = tier
			if err := repos.Projects.Update(ctx, p); err != nil {
				fail("failed to update %s: %v", p.Name, err)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Tier set to %s (%d-day lookback)\n", green("✓"), tier, tier.LookbackDays())
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(tierCmd)
}
