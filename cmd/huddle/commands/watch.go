package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/huddlekit/huddle/internal/printer"
	"github.com/huddlekit/huddle/internal/session"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch who is here and what is happening",
	Long: `Join the session and print a live view of it: the roster with
nicknames, shared cursor positions, and the recent-activity feed.

The view refreshes on the configured interval until Ctrl-C.

Examples:
  huddle -s standup watch
  huddle -s standup watch --interval 500ms`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	printer.Success("Watching session (Ctrl-C to stop)\n")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	printView(s)
	for {
		select {
		case <-stop:
			printer.Println()
			return nil
		case <-ticker.C:
			printView(s)
		}
	}
}

func printView(s *session.Session) {
	printer.Println()
	printer.Printf("%-20s %-12s %s\n", "WHO", "LAST SEEN", "CURSOR")
	printer.Printf("%-20s %-12s %s\n", "--------------------", "------------", "------------")

	cursors := s.Cursors()
	for _, e := range s.Roster() {
		cursor := "-"
		if pos, ok := cursors[e.ClientID]; ok {
			cursor = fmt.Sprintf("(%.0f, %.0f)", pos.X, pos.Y)
		}
		name := e.Nickname
		if name == "" {
			name = e.ClientID
		}
		printer.Printf("%-20s %-12s %s\n", printer.Actor(name), ago(e.LastSeen), cursor)
	}

	entries := s.Ledger().Entries()
	if len(entries) == 0 {
		return
	}
	printer.Println()
	printer.Printf("%-20s %-10s %s\n", "ACTOR", "WHEN", "ACTION")
	printer.Printf("%-20s %-10s %s\n", "--------------------", "----------", "----------------------------------------")
	for _, e := range entries {
		at := time.UnixMilli(e.AtMs)
		printer.Printf("%-20s %-10s %s\n", printer.Actor(e.Actor), ago(at), e.Kind)
	}
}

func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
