package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/internal/state"
	"github.com/kestrelworks/swarmgate/internal/workflow"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent requests and their outcomes",
	Long: `Display recent requests from the session store.

Shows each request's ID, risk-gated plan class, terminal workflow
state, and age. Requests refused before planning show no plan class.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of requests to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath := cfg.State.Path
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No session history. Run 'swarmgate run <description>' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	summaries, err := db.RecentRequests(statusLimit)
	if err != nil {
		return fmt.Errorf("list recent requests: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No session history. Run 'swarmgate run <description>' to start.")
		return nil
	}

	fmt.Println("Recent Requests:")
	for _, s := range summaries {
		desc := s.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		planClass := s.PlanClass
		if planClass == "" {
			planClass = "refused"
		}
		fmt.Printf("  %s: \"%s\"\n", s.ID, desc)
		fmt.Printf("    Plan: %s  State: %s  Submitted: %s ago\n",
			planClass, displayState(s.State), formatDuration(time.Since(s.SubmittedAt)))
	}
	return nil
}

// displayState renders an instance state for the listing.
func displayState(s string) string {
	switch s {
	case "":
		return "none"
	case string(workflow.StateAllPhasesCompleted):
		return "completed"
	case string(workflow.StateAbortedFailed):
		return "aborted"
	default:
		return s
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		if len(s) > offset {
			result.WriteString(",")
		}
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
