package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiklabs/aik/internal/agent/config"
)

// SetupRootCmd configures the root command with all subcommands and flags.
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aik",
		Short: "AIK - vision-driven desktop automation agent",
		Long: `AIK drives a desktop toward a natural-language goal by repeatedly
screenshotting the screen, asking a vision model what should happen next,
validating its plan, and executing it with recovery when stuck.

Run 'aik run "open Notepad and type Hello"' to start a session.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.aik/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(SessionsCmd())
	rootCmd.AddCommand(DoctorCmd())

	return rootCmd
}

// loadConfig resolves the effective config from file plus flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cmd.Flags().Changed("provider") {
		cfg.Provider = provider
	}
	if cmd.Flags().Changed("model") {
		cfg.Model = model
	}
	if cmd.Flags().Changed("max-steps") {
		cfg.MaxSteps = maxSteps
	}
	if cmd.Flags().Changed("interval-ms") {
		cfg.LoopIntervalMs = intervalMs
	}
	if cmd.Flags().Changed("max-tokens") {
		cfg.MaxTokens = maxTokens
	}
	if cmd.Flags().Changed("temperature") {
		cfg.Temperature = temperature
	}
	if cmd.Flags().Changed("monitor") {
		cfg.Monitor = monitor
	}
	if cmd.Flags().Changed("screenshot-max-width") {
		cfg.ScreenshotMaxWidth = screenshotMax
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	if noVerify {
		cfg.Verification.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
