package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run unit tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Test()
			if err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("lint failed: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func IntegrationTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run integration tests against a sensor on the local i2c bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Integ()
			if err != nil {
				return fmt.Errorf("integration tests failed: %w", err)
			}
			return nil
		},
	}
	return cmd
}

// SmokeCmd runs the cli against the simulated sensor in both measurement modes.
func SmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the cli against the simulated sensor",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, mode := range []string{"direct", "phase"} {
				slog.Info("smoke test", "mode", mode)
				run := exec.CommandContext(cmd.Context(), "go", "run", "./cmd/sen0322", "read", "--adapter", "sim", "--mode", mode)
				run.Stdout = os.Stdout
				run.Stderr = os.Stderr
				if err := run.Run(); err != nil {
					return fmt.Errorf("smoke test in %s mode failed: %w", mode, err)
				}
			}
			return nil
		},
	}
	return cmd
}
