package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/huddlekit/huddle/internal/printer"
	"github.com/huddlekit/huddle/internal/relay"
)

var relayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a WebSocket relay for sessions without Redis",
	Long: `Run a standalone relay that carries sessions over WebSockets.

The relay keeps one room per session, fans every update out to all
connected participants, and hands late joiners a snapshot of the latest
value per key. Clients point at it with --relay:

  huddle relay --addr :8080
  huddle --relay ws://localhost:8080/ws --session demo watch`,
	RunE: runRelay,
}

func init() {
	relayCmd.Flags().StringVar(&relayAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	srv := relay.NewServer()
	if err := srv.Start(relayAddr); err != nil {
		return err
	}
	printer.Success("Relay listening on %s\n", relayAddr)
	printer.Info("Press Ctrl-C to stop.\n")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	printer.Step("Shutting down...\n")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
