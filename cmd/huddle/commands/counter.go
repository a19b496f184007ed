package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/huddlekit/huddle/internal/printer"
)

var counterDelta int

var counterCmd = &cobra.Command{
	Use:   "counter KEY",
	Short: "Bump a shared counter",
	Long: `Bump a shared counter and print its new value.

Counters are ordinary shared values: everyone in the session sees the
same number once updates settle. Use --delta for steps other than +1.

Examples:
  huddle -s standup counter applause
  huddle -s standup counter applause --delta 5`,
	Args: cobra.ExactArgs(1),
	RunE: runCounter,
}

func init() {
	counterCmd.Flags().IntVar(&counterDelta, "delta", 1, "Amount to add (may be negative)")
	rootCmd.AddCommand(counterCmd)
}

func runCounter(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	key := args[0]

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.Increment(key, counterDelta)
	if err != nil {
		return fmt.Errorf("failed to bump counter: %w", err)
	}
	if err := s.Record(fmt.Sprintf("bumped %s to %d", key, n)); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}

	printer.Success("%s = %d\n", key, n)
	return nil
}
