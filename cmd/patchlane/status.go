package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/patchlane/patchlane/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline statistics and recent issues",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Patchlane Status ==="))

		stats, err := store.Statistics(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load statistics: %v\n", err)
			os.Exit(1)
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s\n", yellow("Issues:"))
		fmt.Printf("  total: %d  automated: %d  manual: %d  merged: %d\n\n",
			stats.Total, stats.Automated, stats.Manual, stats.Merged)

		issues, err := store.ListIssues(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list issues: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if len(issues) == 0 {
			fmt.Printf("  %s\n", gray("No issues recorded"))
			return
		}

		fmt.Printf("%s\n", yellow("Recent:"))
		limit := len(issues)
		if limit > 15 {
			limit = 15
		}
		for _, issue := range issues[:limit] {
			fmt.Printf("  %s %s  %s  %s\n",
				statusDot(issue.Status), issue.ID, statusLabel(issue.Status), issue.Title)
			if issue.PRURL != "" {
				fmt.Printf("      %s\n", gray(issue.PRURL))
			}
		}
	},
}

func statusDot(status types.Status) string {
	switch status {
	case types.StatusMerged:
		return color.GreenString("●")
	case types.StatusPROpened:
		return color.CyanString("●")
	case types.StatusFailed:
		return color.RedString("●")
	case types.StatusNotified:
		return color.YellowString("●")
	default:
		return color.HiBlackString("○")
	}
}

func statusLabel(status types.Status) string {
	return fmt.Sprintf("%-11s", string(status))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
