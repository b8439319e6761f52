package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiklabs/aik/internal/agent/ai"
	"github.com/aiklabs/aik/internal/agent/config"
	"github.com/aiklabs/aik/internal/agent/desktop"
	"github.com/aiklabs/aik/internal/agent/killswitch"
	"github.com/aiklabs/aik/internal/agent/runner"
	"github.com/aiklabs/aik/internal/agent/session"
	"github.com/aiklabs/aik/internal/agent/status"
	"github.com/aiklabs/aik/internal/agent/verify"
)

// RunCmd drives the control loop toward a goal.
func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run \"<goal>\"",
		Short: "Run the agent toward a natural-language goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "model provider (anthropic or openai)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name override")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "maximum loop iterations")
	cmd.Flags().IntVar(&intervalMs, "interval-ms", 0, "pause between iterations")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "per-decision output token budget")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().IntVar(&monitor, "monitor", 0, "display index to capture")
	cmd.Flags().IntVar(&screenshotMax, "screenshot-max-width", 0, "downscale screenshots to this width (0 = native)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log actions instead of injecting them")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "accept stop actions without a verification pass")

	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config, goal string) error {
	keys := cfg.Credentials()
	if len(keys) == 0 {
		return fmt.Errorf("no API keys configured; set api_keys in config or %s", envHint(cfg.Provider))
	}

	client := ai.NewClient(keys, providerFactory(cfg))

	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := session.Open(cfg.DBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "session log unavailable: %v\n", err)
		store = nil // run without persistence
	}
	defer store.Close()

	kill := killswitch.New()
	kill.BindSignals()
	// Every sleep in the loop, the injector, and the API client's backoff
	// runs under this context, so a kill signal interrupts them promptly.
	ctx, cancel := kill.Context(ctx)
	defer cancel()

	feed := status.NewFeed(cfg.StatusFeedSize)
	go printEvents(feed)

	opts := []runner.Option{
		runner.WithStore(store),
		runner.WithStatusFeed(feed),
	}
	if cfg.Verification.Enabled {
		opts = append(opts, runner.WithVerifier(verify.New(client, cfg.Verification.ConfidenceThreshold)))
	}
	if interactive() {
		opts = append(opts, runner.WithAskUser(promptChoice))
	}

	r := runner.New(
		runner.Config{
			Goal:         goal,
			MaxSteps:     cfg.MaxSteps,
			LoopInterval: time.Duration(cfg.LoopIntervalMs) * time.Millisecond,
			MaxTokens:    cfg.MaxTokens,
			Temperature:  cfg.Temperature,
			DryRun:       cfg.DryRun,
			VerifyStops:  cfg.Verification.Enabled,
		},
		client,
		desktop.NewScreenCapturer(cfg.Monitor, cfg.ScreenshotMaxWidth),
		desktop.UnknownWindower{},
		desktop.LogInjector{},
		kill,
		opts...,
	)

	fmt.Printf("session %s\n", r.SessionID())
	trail, err := r.Run(ctx)
	fmt.Printf("finished: reason=%s steps=%d actions=%d failures=%d\n",
		trail.Reason, trail.Steps, trail.ActionsExecuted, trail.Failures)
	return err
}

func providerFactory(cfg *config.Config) ai.ProviderFactory {
	if strings.EqualFold(cfg.Provider, "openai") {
		return func(key string) ai.Provider { return ai.NewOpenAIProvider(key, cfg.Model) }
	}
	return func(key string) ai.Provider { return ai.NewAnthropicProvider(key, cfg.Model) }
}

func envHint(provider string) string {
	if strings.EqualFold(provider, "openai") {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

func printEvents(feed *status.Feed) {
	for ev := range feed.Events() {
		fmt.Printf("  [%s] step %d: %s\n", ev.Kind, ev.Step, ev.Text)
	}
}

// interactive reports whether a human can answer ask_user prompts.
func interactive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// promptChoice asks the human to pick an option (or type a free answer).
func promptChoice(question string, options []string) (string, error) {
	fmt.Printf("\nAIK needs your choice:\n%s\n", question)
	for i, opt := range options {
		fmt.Printf("  %d. %s\n", i+1, opt)
	}
	fmt.Printf("Choose 1-%d (or type your own): ", len(options))

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		if len(options) > 0 {
			return options[0], nil
		}
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" && len(options) > 0 {
		return options[0], nil
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], nil
	}
	return line, nil
}
