package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/pubhub/internal/reddit"
	"github.com/steveyegge/pubhub/internal/types"
)

var (
	projDescription string
	projURL         string
	projForums      []string
	projKeywords    []string
	projPersona     string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage monitored projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Long: `Create a project to monitor. Without --keyword, scans fall back to
keywords extracted from the description.

Example:
  pubhub project create Taskly \
    --description "A productivity tool for developers" \
    --forum webdev --forum SaaS --keyword "task manager"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		project := &types.Project{
			UserID:      userID,
			Name:        args[0],
			Description: projDescription,
			URL:         projURL,
			Forums:      projForums,
			Keywords:    projKeywords,
			Persona:     projPersona,
		}
		if err := checkForums(project.Forums); err != nil {
			fail("%v", err)
		}
		if err := repos.Projects.Create(context.Background(), project); err != nil {
			fail("failed to create project: %v", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n%s Created project %s\n\n", green("✓"), cyan(project.Name))
		printProject(project)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		projects, err := repos.Projects.List(context.Background(), userID)
		if err != nil {
			fail("%v", err)
		}
		if len(projects) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No projects. Run 'pubhub project create <name>'"))
			return
		}
		fmt.Println()
		for _, p := range projects {
			printProject(p)
		}
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete a project and its feed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		project := mustProject(ctx, args[0])
		if err := repos.Projects.Delete(ctx, userID, project.ID); err != nil {
			fail("failed to delete project: %v", err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted %s\n", green("✓"), project.Name)
	},
}

var projectImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create projects from a YAML seed file",
	Long: `Create every project listed in a YAML seed file:

  projects:
    - name: Taskly
      description: A productivity tool for developers
      url: https://taskly.example
      subreddits: [webdev, SaaS]
      keywords: [task manager, todo app]
      persona: A solo developer who built Taskly

Projects whose name already exists are skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fail("failed to read seed file: %v", err)
		}
		seeds, err := parseSeedFile(data)
		if err != nil {
			fail("%v", err)
		}

		ctx := context.Background()
		existing, err := repos.Projects.List(ctx, userID)
		if err != nil {
			fail("%v", err)
		}
		names := make(map[string]bool, len(existing))
		for _, p := range existing {
			names[strings.ToLower(p.Name)] = true
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		created := 0
		for _, seed := range seeds {
			if names[strings.ToLower(seed.Name)] {
				fmt.Printf("  %s %s (exists)\n", gray("○"), seed.Name)
				continue
			}
			project := seed.project(userID)
			if err := repos.Projects.Create(ctx, project); err != nil {
				fmt.Printf("  %s %s: %v\n", red("✗"), seed.Name, err)
				continue
			}
			names[strings.ToLower(seed.Name)] = true
			created++
			fmt.Printf("  %s %s\n", green("✓"), seed.Name)
		}
		fmt.Printf("\nImported %d of %d projects\n", created, len(seeds))
	},
}

// projectSeed is one entry of a seed file
type projectSeed struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	URL         string   `yaml:"url"`
	Forums      []string `yaml:"subreddits"`
	Keywords    []string `yaml:"keywords"`
	Persona     string   `yaml:"persona"`
}

type seedFile struct {
	Projects []projectSeed `yaml:"projects"`
}

func (s projectSeed) project(user string) *types.Project {
	return &types.Project{
		UserID:      user,
		Name:        s.Name,
		Description: s.Description,
		URL:         s.URL,
		Forums:      s.Forums,
		Keywords:    s.Keywords,
		Persona:     s.Persona,
	}
}

// parseSeedFile decodes and checks a seed file
func parseSeedFile(data []byte) ([]projectSeed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(f.Projects) == 0 {
		return nil, fmt.Errorf("seed file lists no projects")
	}
	for i, s := range f.Projects {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("project %d: name is required", i+1)
		}
		if err := checkForums(s.Forums); err != nil {
			return nil, fmt.Errorf("project %s: %w", s.Name, err)
		}
	}
	return f.Projects, nil
}

// checkForums rejects names the API would never accept. An r/ prefix is allowed.
func checkForums(forums []string) error {
	var bad []string
	for _, f := range forums {
		name := strings.TrimPrefix(strings.TrimSpace(f), "r/")
		if !reddit.ValidForumName(name) {
			bad = append(bad, f)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid subreddit name(s): %s", strings.Join(bad, ", "))
	}
	return nil
}

func printProject(p *types.Project) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("%s %s\n", cyan(p.Name), gray(p.ID))
	if p.Description != "" {
		fmt.Printf("  %s\n", p.Description)
	}
	fmt.Printf("  Tier:       %s\n", p.Tier)
	fmt.Printf("  Subreddits: %s\n", orNone(prefixed(p.Forums)))
	fmt.Printf("  Keywords:   %s\n", orNone(p.Keywords))
	fmt.Println()
}

func prefixed(forums []string) []string {
	out := make([]string, len(forums))
	for i, f := range forums {
		out[i] = "r/" + f
	}
	return out
}

func orNone(values []string) string {
	if len(values) == 0 {
		return color.New(color.FgHiBlack).Sprint("(none)")
	}
	return strings.Join(values, ", ")
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectDeleteCmd, projectImportCmd)

	projectCreateCmd.Flags().StringVarP(&projDescription, "description", "d", "", "What the product does")
	projectCreateCmd.Flags().StringVar(&projURL, "url", "", "Product URL")
	projectCreateCmd.Flags().StringSliceVarP(&projForums, "forum", "f", nil, "Subreddit to monitor (repeatable)")
	projectCreateCmd.Flags().StringSliceVarP(&projKeywords, "keyword", "k", nil, "Keyword to match (repeatable)")
	projectCreateCmd.Flags().StringVar(&projPersona, "persona", "", "Voice used for drafted replies")
}
