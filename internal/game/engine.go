package game

import (
	"fmt"
	"sync"

	"github.com/huddlekit/huddle/internal/presence"
	"github.com/huddlekit/huddle/pkg/statestore"
)

// DefaultSlots are the two slots of the stock tic-tac-toe game.
var DefaultSlots = []string{"X", "O"}

// defaultBoardSize matches the Lines3x3 detector.
const defaultBoardSize = 9

// Engine drives one named game instance. All state lives in the store;
// the engine adds validation, turn order, and win detection. The roster is
// consulted to resolve claimant identity. Safe for concurrent use.
type Engine struct {
	store  *statestore.Store
	roster *presence.Tracker
	key    string
	slots  []string

	boardSize int
	detect    Detector

	// mu makes each validate-then-write a single local critical section.
	// It orders local calls only; remote writers reconcile via the merge
	// rule, which is why every precondition is re-checked under mu.
	mu sync.Mutex
}

// Option customizes an engine.
type Option func(*Engine)

// WithDetector replaces the default 3x3 line detector, for boards of a
// different size or games with other terminal conditions.
func WithDetector(d Detector, boardSize int) Option {
	return func(e *Engine) {
		e.detect = d
		e.boardSize = boardSize
	}
}

// New creates an engine for the named game instance. Slots are the ordered
// turn sequence; at least two distinct slots are required.
func New(store *statestore.Store, roster *presence.Tracker, gameKey string, slots []string, opts ...Option) (*Engine, error) {
	if gameKey == "" {
		return nil, fmt.Errorf("game key cannot be empty")
	}
	if len(slots) < 2 {
		return nil, fmt.Errorf("a game needs at least two slots, got %d", len(slots))
	}
	seen := make(map[string]bool, len(slots))
	for _, s := range slots {
		if s == "" {
			return nil, fmt.Errorf("slot names cannot be empty")
		}
		if seen[s] {
			return nil, fmt.Errorf("duplicate slot name: %q", s)
		}
		seen[s] = true
	}

	e := &Engine{
		store:     store,
		roster:    roster,
		key:       gameKey,
		slots:     append([]string(nil), slots...),
		boardSize: defaultBoardSize,
		detect:    Lines3x3,
	}
	for _, opt := range opts {
		opt(e)
	}

	// A peer's claim can fill the last open slot, so activation must be
	// re-checked whenever a merged slot write lands, not only on local
	// claims. The check runs on its own goroutine because local claims
	// notify while already holding e.mu.
	store.SubscribePrefix(fmt.Sprintf("game:%s:slot:", gameKey), func(string) {
		go func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.maybeActivate()
		}()
	})
	return e, nil
}

// Store key helpers. Board, turn, status, outcome, each slot, and the
// scores are independent keys; cross-key consistency is eventual, which is
// why preconditions are re-checked inside each critical section.
//
// Pattern: game:{game_key}:{part}

func (e *Engine) boardKey() string   { return fmt.Sprintf("game:%s:board", e.key) }
func (e *Engine) turnKey() string    { return fmt.Sprintf("game:%s:turn", e.key) }
func (e *Engine) statusKey() string  { return fmt.Sprintf("game:%s:status", e.key) }
func (e *Engine) outcomeKey() string { return fmt.Sprintf("game:%s:outcome", e.key) }
func (e *Engine) scoresKey() string  { return fmt.Sprintf("game:%s:scores", e.key) }
func (e *Engine) slotKey(slot string) string {
	return fmt.Sprintf("game:%s:slot:%s", e.key, slot)
}

func (e *Engine) emptyBoard() []string {
	return make([]string, e.boardSize)
}

func (e *Engine) board() []string {
	b := statestore.Get(e.store, e.boardKey(), e.emptyBoard())
	if len(b) != e.boardSize {
		return e.emptyBoard()
	}
	return b
}

func (e *Engine) status() Status {
	return statestore.Get(e.store, e.statusKey(), StatusWaiting)
}

func (e *Engine) slotOwner(slot string) string {
	return statestore.Get(e.store, e.slotKey(slot), "")
}

func (e *Engine) validSlot(slot string) bool {
	for _, s := range e.slots {
		if s == slot {
			return true
		}
	}
	return false
}

// ClaimSlot attempts to claim a slot for clientID. The claim succeeds only
// if the slot is unclaimed and the client holds no other slot in this game.
// Once every slot is claimed, the game transitions to active automatically.
//
// Two clients claiming the same slot concurrently both see ClaimAccepted
// locally; the store's merge rule then picks exactly one winner and the
// loser's view is corrected when the winning claim arrives.
func (e *Engine) ClaimSlot(slot, clientID string) ClaimResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.validSlot(slot) {
		return ClaimRejectedUnknownSlot
	}
	if e.roster != nil && !e.roster.IsPresent(clientID) {
		return ClaimRejectedNotPresent
	}
	if owner := e.slotOwner(slot); owner != "" {
		if owner == clientID {
			e.maybeActivate()
			return ClaimAccepted // idempotent re-claim
		}
		return ClaimRejectedTaken
	}
	for _, s := range e.slots {
		if s != slot && e.slotOwner(s) == clientID {
			return ClaimRejectedAlreadyHolding
		}
	}

	// Set only fails when a registered schema rejects the value, and no
	// schema covers game keys today.
	if err := statestore.Set(e.store, e.slotKey(slot), clientID); err != nil {
		return ClaimRejectedUnknownSlot
	}
	e.maybeActivate()
	return ClaimAccepted
}

// maybeActivate transitions waiting -> active once all slots are claimed.
// Caller must hold e.mu.
func (e *Engine) maybeActivate() {
	if e.status() != StatusWaiting {
		return
	}
	for _, s := range e.slots {
		if e.slotOwner(s) == "" {
			return
		}
	}
	_ = statestore.Set(e.store, e.turnKey(), e.slots[0])
	_ = statestore.Set(e.store, e.statusKey(), StatusActive)
}

// ApplyMove places the acting client's mark on a cell. The move is rejected
// unless the game is active, it is the caller's turn, and the cell is empty
// and in range; rejections change nothing and propagate nothing. An
// accepted move advances the turn, and on a terminal condition finishes the
// game, records the outcome, and credits the winner's score.
func (e *Engine) ApplyMove(clientID string, cell int) MoveResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	// All preconditions are validated here, inside the critical section,
	// so a reset or status change merged since the caller looked at the
	// board cannot be bypassed.
	if e.status() != StatusActive {
		return MoveRejectedNotActive
	}
	turn := statestore.Get(e.store, e.turnKey(), e.slots[0])
	if e.slotOwner(turn) != clientID {
		return MoveRejectedNotYourTurn
	}
	if cell < 0 || cell >= e.boardSize {
		return MoveRejectedOutOfRange
	}
	board := e.board()
	if board[cell] != "" {
		return MoveRejectedOccupied
	}

	board[cell] = turn
	// See ClaimSlot: Set cannot fail for game keys today.
	if err := statestore.Set(e.store, e.boardKey(), board); err != nil {
		return MoveRejectedNotActive
	}

	winnerSlot, tie, done := e.detect(board)
	if !done {
		_ = statestore.Set(e.store, e.turnKey(), e.nextSlot(turn))
		return MoveAccepted
	}

	outcome := Outcome{Tie: tie}
	if !tie {
		outcome.WinnerSlot = winnerSlot
		outcome.WinnerClientID = e.slotOwner(winnerSlot)
	}
	_ = statestore.Set(e.store, e.statusKey(), StatusFinished)
	_ = statestore.Set(e.store, e.outcomeKey(), outcome)

	if !tie && outcome.WinnerClientID != "" {
		winner := outcome.WinnerClientID
		_, _ = statestore.Modify(e.store, e.scoresKey(), map[string]int{}, func(scores map[string]int) map[string]int {
			scores[winner]++
			return scores
		})
	}
	return MoveAccepted
}

func (e *Engine) nextSlot(cur string) string {
	for i, s := range e.slots {
		if s == cur {
			return e.slots[(i+1)%len(e.slots)]
		}
	}
	return e.slots[0]
}

// Reset returns the game to its defaults: empty board, first slot's turn,
// no outcome. With keepSlots the claims survive and a fully-claimed game
// goes straight back to active (a rematch); without it the slots are
// cleared too and the game waits for new claims. Scores are never touched
// by Reset; see ResetScores.
func (e *Engine) Reset(keepSlots bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_ = statestore.Set(e.store, e.boardKey(), e.emptyBoard())
	_ = statestore.Set(e.store, e.turnKey(), e.slots[0])
	_ = statestore.Set(e.store, e.outcomeKey(), Outcome{})

	if !keepSlots {
		for _, s := range e.slots {
			_ = statestore.Set(e.store, e.slotKey(s), "")
		}
		_ = statestore.Set(e.store, e.statusKey(), StatusWaiting)
		return
	}

	for _, s := range e.slots {
		if e.slotOwner(s) == "" {
			_ = statestore.Set(e.store, e.statusKey(), StatusWaiting)
			return
		}
	}
	_ = statestore.Set(e.store, e.statusKey(), StatusActive)
}

// ResetScores clears the score ledger for this game.
func (e *Engine) ResetScores() {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = statestore.Set(e.store, e.scoresKey(), map[string]int{})
}

// State returns a snapshot of the whole game, recomputed from the store.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	slots := make(map[string]string, len(e.slots))
	for _, s := range e.slots {
		slots[s] = e.slotOwner(s)
	}
	return State{
		Status:   e.status(),
		Board:    e.board(),
		TurnSlot: statestore.Get(e.store, e.turnKey(), e.slots[0]),
		Outcome:  statestore.Get(e.store, e.outcomeKey(), Outcome{}),
		Slots:    slots,
		Scores:   statestore.Get(e.store, e.scoresKey(), map[string]int{}),
	}
}

// Slots returns the game's ordered slot names.
func (e *Engine) Slots() []string {
	return append([]string(nil), e.slots...)
}

// Subscribe registers fn to run on any change to this game's keys, local or
// remote. The returned handle unregisters it.
func (e *Engine) Subscribe(fn func()) (unsubscribe func()) {
	return e.store.SubscribePrefix(fmt.Sprintf("game:%s:", e.key), func(string) { fn() })
}
