// Command consentctl is the operator tool for the consent ledger: schema
// migrations, read-only inspection of a sender/recipient pair and manual
// reconciliation passes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forwardgate/internal/bootstrap"
	"forwardgate/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "consentctl",
		Short:         "Operate the forwardgate consent ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(inspectCmd())
	cmd.AddCommand(reconcileCmd())
	return cmd
}

// loadConfig reads configuration from the environment, and from SSM unless
// APP_ENV=local.
func loadConfig() (*config.Config, error) {
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// withStack builds the full stack for the duration of fn.
func withStack(ctx context.Context, fn func(*bootstrap.Stack) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.NewLogger(cfg.LogLevel).With("component", "consentctl")
	stack, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close(context.WithoutCancel(ctx))
	return fn(stack)
}
