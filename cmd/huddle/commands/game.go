package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/huddlekit/huddle/internal/game"
	"github.com/huddlekit/huddle/internal/printer"
	"github.com/huddlekit/huddle/internal/session"
)

var (
	gameKey  string
	gameSlot string
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Play tic-tac-toe with the session",
	Long: `Join the session's tic-tac-toe game and play interactively.

On start the command claims a slot (the first free one unless --slot is
given) and then reads moves from stdin: type a cell number 0-8 and press
enter. Other commands: "reset" starts a rematch, "quit" leaves.

The board updates live as other participants move.

Examples:
  huddle -s standup game
  huddle -s standup game --slot O --key lunch-break`,
	RunE: runGame,
}

func init() {
	gameCmd.Flags().StringVar(&gameKey, "key", "tictactoe", "Game instance to join")
	gameCmd.Flags().StringVar(&gameSlot, "slot", "", "Slot to claim (first free slot if omitted)")
	rootCmd.AddCommand(gameCmd)
}

func runGame(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	engine, err := s.Game(gameKey)
	if err != nil {
		return err
	}

	slot, err := claimSlot(s, engine)
	if err != nil {
		return err
	}
	printer.Success("You are %s in game %q\n", slot, gameKey)
	_ = s.Record(fmt.Sprintf("joined game %s as %s", gameKey, slot))

	// Re-render on every change, our own moves included.
	render := func() { printBoard(s, engine) }
	unsub := engine.Subscribe(render)
	defer unsub()
	render()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "quit" || line == "q":
			return nil
		case line == "reset":
			engine.Reset(true)
			_ = s.Record(fmt.Sprintf("restarted game %s", gameKey))
		case line == "":
			render()
		default:
			cell, err := strconv.Atoi(line)
			if err != nil {
				printer.Warning("type a cell number 0-8, 'reset', or 'quit'\n")
				continue
			}
			res := engine.ApplyMove(s.ClientID(), cell)
			if !res.Accepted() {
				printer.Warning("move rejected: %s\n", res)
				continue
			}
			// The mover is the one client that saw the transition, so it
			// is the one that records the outcome.
			if st := engine.State(); st.Status == game.StatusFinished {
				if st.Outcome.Tie {
					_ = s.Record(fmt.Sprintf("tied game %s", gameKey))
				} else {
					_ = s.Record(fmt.Sprintf("won game %s as %s", gameKey, st.Outcome.WinnerSlot))
				}
			}
		}
	}
	return scanner.Err()
}

// claimSlot claims the requested slot, or walks the slot list for the first
// free one.
func claimSlot(s *session.Session, engine *game.Engine) (string, error) {
	if gameSlot != "" {
		if res := engine.ClaimSlot(gameSlot, s.ClientID()); !res.Accepted() {
			return "", printer.Error(
				fmt.Sprintf("could not claim slot %s", gameSlot),
				fmt.Sprintf("Claim rejected: %s", res),
				[]string{"Pick another slot, or omit --slot to take the first free one."},
			)
		}
		return gameSlot, nil
	}

	for _, slot := range engine.Slots() {
		if engine.ClaimSlot(slot, s.ClientID()).Accepted() {
			return slot, nil
		}
	}
	return "", printer.Error(
		"no free slots",
		"Every slot in this game is already claimed.",
		[]string{"Watch instead:\n  huddle watch"},
	)
}

func printBoard(s *session.Session, engine *game.Engine) {
	st := engine.State()

	printer.Println()
	for row := 0; row < 3; row++ {
		cells := make([]string, 3)
		for col := 0; col < 3; col++ {
			cells[col] = printer.Mark(st.Board[row*3+col])
		}
		printer.Printf("  %s\n", strings.Join(cells, " "))
	}

	switch st.Status {
	case game.StatusWaiting:
		printer.Info("Waiting for players to claim slots...\n")
	case game.StatusActive:
		printer.Info("Turn: %s (%s)\n", st.TurnSlot, s.Nickname(st.Slots[st.TurnSlot]))
	case game.StatusFinished:
		if st.Outcome.Tie {
			printer.Info("Game over: tie. Type 'reset' for a rematch.\n")
		} else {
			printer.Success("%s (%s) wins! Type 'reset' for a rematch.\n",
				st.Outcome.WinnerSlot, s.Nickname(st.Outcome.WinnerClientID))
		}
	}
}
