package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	addCmd.Flags().StringVarP(&addKind, "kind", "k", "experience", "Kind of experience (conversation, task, error, ...)")
	addCmd.Flags().StringVarP(&addSpeaker, "speaker", "s", "", "Who said or did it")
	addCmd.Flags().Float64VarP(&addImportance, "importance", "i", 5, "Importance on a 0-10 scale")
	addCmd.Flags().StringVarP(&addTopic, "topic", "t", "", "Topic label")
	addCmd.Flags().BoolVar(&addFocus, "focus", false, "Also admit to the working set")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchTiers, "tiers", "", "Comma-separated tiers to search (shock,procedural,longterm)")
}

// --- add command ---

var (
	addKind       string
	addSpeaker    string
	addImportance float64
	addTopic      string
	addFocus      bool
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Remember an experience",
	Long:  "Ingest one experience, classify it, and route it to a memory tier.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")

	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	metadata := map[string]any{"importance": addImportance}
	if addTopic != "" {
		metadata["topic"] = addTopic
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := rt.router.AddExperience(ctx, engine.AddRequest{
		Kind:       addKind,
		Content:    content,
		Metadata:   metadata,
		Speaker:    addSpeaker,
		AddToFocus: addFocus,
	})
	if err != nil {
		return fmt.Errorf("add experience: %w", err)
	}

	fmt.Printf("routed to %s (composite %.2f, priority %d)\n",
		res.Decision.TargetTier, res.Decision.CompositeScore, res.Decision.Priority)
	fmt.Printf("  %s\n", res.Decision.Reasoning)
	if res.TargetID != "" {
		fmt.Printf("  id: %s\n", res.TargetID)
	}
	if res.FocusID != "" {
		fmt.Printf("  focus: %s\n", res.FocusID)
	}
	return nil
}

// --- search command ---

var (
	searchLimit int
	searchTiers string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories",
	Long:  "Search the working set, ingest buffer, and durable tiers by similarity.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	var tiers []store.Tier
	if searchTiers != "" {
		for _, name := range strings.Split(searchTiers, ",") {
			tier := store.Tier(strings.TrimSpace(name))
			if !tier.Valid() {
				return fmt.Errorf("unknown tier %q", name)
			}
			tiers = append(tiers, tier)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := rt.router.SearchMemories(ctx, query, tiers, searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	for i, r := range resp.Results {
		content := r.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Printf("%d. [%.3f] (%s) %s\n", i+1, r.Score, r.Source, content)
	}
	for _, e := range resp.Errors {
		fmt.Printf("warning: %s\n", e)
	}
	return nil
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lifecycle counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	s, err := rt.router.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	fmt.Printf("fresh:      %d\n", s.FreshCount)
	fmt.Printf("focus:      %d\n", s.FocusCount)
	fmt.Printf("shock:      %d\n", s.ShockCount)
	fmt.Printf("procedural: %d\n", s.ProceduralCount)
	fmt.Printf("longterm:   %d\n", s.LongTermCount)
	fmt.Printf("decisions:  %d\n", s.Decisions)
	fmt.Printf("decay:      %d pending, %d completed, %d failed\n",
		s.PendingDecay, s.CompletedDecay, s.FailedDecay)
	if s.TodayCompressions > 0 {
		fmt.Printf("today:      %d compressions, %d tokens saved (avg ratio %.2f)\n",
			s.TodayCompressions, s.TodayTokensSaved, s.TodayAvgRatio)
	}
	return nil
}

// --- decay command ---

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one decay cycle now",
	Long:  "Scan long-term memories, schedule phase transitions, and process the queue once.",
	RunE:  runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	res, err := rt.scheduler.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("decay cycle: %w", err)
	}

	fmt.Printf("scheduled %d, processed %d (%d completed, %d failed, %d forgotten)\n",
		res.Scheduled, res.Processed, res.Completed, res.Failed, res.Forgotten)
	if res.TokensSaved > 0 {
		fmt.Printf("tokens saved: %d\n", res.TokensSaved)
	}
	for _, e := range res.Errors {
		fmt.Printf("warning: %s\n", e)
	}
	return nil
}
