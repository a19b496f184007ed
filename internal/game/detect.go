package game

// Detector evaluates a board for a terminal condition. It returns the
// winning slot mark (empty on a tie) and whether the game is over. The
// engine calls it after every accepted move, so implementations must be
// pure functions of the board.
type Detector func(board []string) (winnerSlot string, tie bool, done bool)

var lines3x3 = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// Lines3x3 is the default detector for 3x3 boards: three equal marks in a
// row, column, or diagonal win; a full board with no line is a tie.
func Lines3x3(board []string) (string, bool, bool) {
	for _, ln := range lines3x3 {
		a, b, c := board[ln[0]], board[ln[1]], board[ln[2]]
		if a != "" && a == b && a == c {
			return a, false, true
		}
	}
	for _, cell := range board {
		if cell == "" {
			return "", false, false
		}
	}
	return "", true, true
}
