package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/internal/orchestrator"
	"github.com/kestrelworks/swarmgate/internal/risk"
	"github.com/kestrelworks/swarmgate/internal/runner"
	"github.com/kestrelworks/swarmgate/internal/state"
	"github.com/kestrelworks/swarmgate/internal/workflow"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

var (
	runFiles    []string
	runYes      bool
	runDebugLog string
	runNoState  bool
)

var runCmd = &cobra.Command{
	Use:   "run <description>",
	Short: "Run a request through the workflow engine",
	Long: `Run a work request through classification, planning, and execution.

The request is scored on eight dimensions and assigned a risk tier.
Low-complexity work executes directly; complex or risky work runs
through checkpointed phases on a worker swarm.

Tier gates:
  - T1 and above require a completed risk assessment. You will be
    prompted for the four assessment answers before work starts.
  - T3 phases pause for your confirmation before their results are
    accepted. Use --yes to auto-confirm (not recommended).

Use --file to hint which files the request will touch; hints feed
the multi-module risk rule and scope the default task plan.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	runCmd.Flags().StringSliceVar(&runFiles, "file", nil, "File the request is expected to touch (repeatable)")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "Auto-confirm T3 phase results without prompting")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write a debug log to this path")
	runCmd.Flags().BoolVar(&runNoState, "no-state", false, "Skip session persistence")
}

func runRequest(cmd *cobra.Command, args []string) error {
	description := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set\n\n" +
			"Swarmgate drives worker agents through the Anthropic API.\n" +
			"Set the key with:\n" +
			"  export ANTHROPIC_API_KEY=your-key-here")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	client, err := runner.NewClient(runner.ClientConfig{
		Model:  anthropic.Model(cfg.Anthropic.Model),
		APIKey: cfg.Anthropic.APIKey,
	})
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}
	factory := &runner.APIFactory{Client: client}

	logger, err := orchestrator.NewDebugLogger(runDebugLog)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithAssessments(promptAssessment),
	}

	if !runNoState {
		db, err := state.Open(cfg.State.Path)
		if err != nil {
			return fmt.Errorf("open state database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		opts = append(opts, orchestrator.WithStateDB(db))
	}

	orch := orchestrator.New(orchestrator.RequiredConfig{
		Config:  cfg,
		Runners: factory,
	}, opts...)

	// Hot-reload classification rules when a rule file is configured.
	if cfg.Decision.RulesPath != "" {
		watcher, err := config.NewRuleWatcher(cfg.Decision.RulesPath, orch.SetRules)
		if err != nil {
			return fmt.Errorf("watch rules: %w", err)
		}
		defer watcher.Close()
	}

	go consumeEvents(orch.Events())
	go answerConfirmations(ctx, orch.Gate())

	fmt.Printf("Submitting request: %s\n\n", description)

	res, err := orch.Run(ctx, models.Request{
		Description: description,
		FileHints:   runFiles,
	})
	if err != nil {
		return fmt.Errorf("orchestration failed: %w", err)
	}

	fmt.Println()
	if res.State == workflow.StateAllPhasesCompleted {
		color.Green("Request %s completed (%s, %s plan, %d phases).",
			res.RequestID, res.Tier, res.Plan.Class, len(res.Phases))
	} else {
		color.Red("Request %s ended in state %s.", res.RequestID, res.State)
	}
	in, out := client.Tracker().Total()
	fmt.Printf("Tokens used: %s in / %s out across %d calls\n",
		formatNumber(int(in)), formatNumber(int(out)), client.Tracker().Calls())
	return nil
}

// promptAssessment collects the four risk-assessment answers on stdin.
func promptAssessment(req models.Request, tier models.RiskTier) *risk.Assessment {
	fmt.Printf("\nThis request is tier %s and needs a risk assessment.\n", tier)
	reader := bufio.NewReader(os.Stdin)
	ask := func(q string) string {
		fmt.Printf("  %s ", q)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}
	return &risk.Assessment{
		FailureScenario:   ask("How could this change fail?"),
		DetectionSignal:   ask("How would you notice the failure?"),
		FastestRollback:   ask("What is the fastest rollback?"),
		WeakestAssumption: ask("Which assumption is most likely wrong?"),
	}
}

// answerConfirmations prompts the operator for each T3 phase result.
func answerConfirmations(ctx context.Context, gate *workflow.ConfirmationGate) {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-gate.Requests():
			fmt.Printf("\n%s\n%s\n", color.YellowString("Phase awaiting confirmation:"), req.Summary)
			confirmed := runYes
			reason := ""
			if runYes {
				fmt.Println("Auto-confirmed (--yes).")
			} else {
				fmt.Print("Accept this result? [y/N] ")
				line, _ := reader.ReadString('\n')
				confirmed = strings.EqualFold(strings.TrimSpace(line), "y")
				if !confirmed {
					fmt.Print("Reason (optional): ")
					reason, _ = reader.ReadString('\n')
					reason = strings.TrimSpace(reason)
				}
			}
			gate.Submit(workflow.ConfirmationResponse{
				InstanceID: req.InstanceID,
				Phase:      req.Phase,
				Confirmed:  confirmed,
				Reason:     reason,
			})
		}
	}
}

// consumeEvents prints orchestration events to stdout.
func consumeEvents(events <-chan orchestrator.Event) {
	for ev := range events {
		line := string(ev.Type)
		if ev.Phase != "" {
			line += " [" + ev.Phase + "]"
		}
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		switch ev.Type {
		case orchestrator.EventPhaseCompleted, orchestrator.EventWorkflowCompleted:
			printStatus("✓", line, color.FgGreen)
		case orchestrator.EventPhaseFailed, orchestrator.EventWorkflowAborted:
			printStatus("✗", line, color.FgRed)
		case orchestrator.EventWorkerReplaced, orchestrator.EventEscalation,
			orchestrator.EventConservationEntered, orchestrator.EventConfirmationRequested:
			printStatus("⚠", line, color.FgYellow)
		default:
			printStatus("•", line, color.FgCyan)
		}
	}
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
