// Package game builds deterministic multi-party turn state machines on top
// of the shared value store: slot claiming, move validation, win detection,
// and score keeping. The engine owns no state of its own; board, turn,
// status, outcome, slots and scores are independent store keys, so
// concurrent writers reconcile through the store's merge rule. Every
// validate-then-write runs as one local critical section, with the
// preconditions re-checked inside it.
package game

import "fmt"

// Status is the lifecycle state of a game instance.
// Games progress waiting -> active -> finished; reset returns them to
// waiting (or straight to active on a rematch with slots kept).
type Status string

const (
	// StatusWaiting means not all slots are claimed yet.
	StatusWaiting Status = "waiting"

	// StatusActive means the game is in progress.
	StatusActive Status = "active"

	// StatusFinished means a terminal condition was reached.
	StatusFinished Status = "finished"
)

// Validate checks that the status is a known enum value.
func (s Status) Validate() error {
	switch s {
	case StatusWaiting, StatusActive, StatusFinished:
		return nil
	default:
		return fmt.Errorf("unknown game status: %q", s)
	}
}

// Outcome records how a finished game ended.
type Outcome struct {
	WinnerSlot     string `json:"winner_slot,omitempty"`
	WinnerClientID string `json:"winner_client_id,omitempty"`
	Tie            bool   `json:"tie,omitempty"`
}

// ClaimResult reports what happened to a slot claim. Rejections are results,
// not errors: they carry no state change and nothing is propagated.
type ClaimResult string

const (
	// ClaimAccepted means the slot is now held by the caller. Note that a
	// concurrent claim by another client may still win the merge; the local
	// view is then corrected automatically.
	ClaimAccepted ClaimResult = "accepted"

	// ClaimRejectedTaken means the slot is already held by another client.
	ClaimRejectedTaken ClaimResult = "slot_taken"

	// ClaimRejectedAlreadyHolding means the caller holds a different slot
	// in the same game.
	ClaimRejectedAlreadyHolding ClaimResult = "already_holding_slot"

	// ClaimRejectedUnknownSlot means the slot name is not part of the game.
	ClaimRejectedUnknownSlot ClaimResult = "unknown_slot"

	// ClaimRejectedNotPresent means the caller is not on the session roster.
	ClaimRejectedNotPresent ClaimResult = "client_not_present"
)

// Accepted reports whether the claim took effect locally.
func (r ClaimResult) Accepted() bool { return r == ClaimAccepted }

// MoveResult reports what happened to a move.
type MoveResult string

const (
	// MoveAccepted means the move was applied.
	MoveAccepted MoveResult = "accepted"

	// MoveRejectedNotActive means the game is not in progress.
	MoveRejectedNotActive MoveResult = "game_not_active"

	// MoveRejectedNotYourTurn means the caller does not hold the slot whose
	// turn it is.
	MoveRejectedNotYourTurn MoveResult = "not_your_turn"

	// MoveRejectedOccupied means the target cell is already marked.
	MoveRejectedOccupied MoveResult = "cell_occupied"

	// MoveRejectedOutOfRange means the target cell does not exist.
	MoveRejectedOutOfRange MoveResult = "cell_out_of_range"
)

// Accepted reports whether the move was applied.
func (r MoveResult) Accepted() bool { return r == MoveAccepted }

// State is a read-only snapshot of a game instance, recomputed from the
// store on every call. Slots maps slot name to the holding client id ("" if
// unclaimed); Scores maps client id to accumulated wins.
type State struct {
	Status   Status
	Board    []string
	TurnSlot string
	Outcome  Outcome
	Slots    map[string]string
	Scores   map[string]int
}
