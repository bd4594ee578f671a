package services

import "strings"

const codeEntryCells = 4

// CodeEntry models the four single-digit cells of the counter verification
// screen: entering a digit advances the cursor, backspacing on an empty
// cell retreats to the previous one. Not safe for concurrent use.
type CodeEntry struct {
	cells  [codeEntryCells]rune
	cursor int
}

// NewCodeEntry returns an empty editor with the cursor on the first cell.
func NewCodeEntry() *CodeEntry {
	return &CodeEntry{}
}

// Enter places a digit in the current cell and advances. Non-digit input
// is ignored, as is input once every cell is filled.
func (e *CodeEntry) Enter(r rune) {
	if r < '0' || r > '9' {
		return
	}
	if e.cursor >= codeEntryCells {
		return
	}
	e.cells[e.cursor] = r
	e.cursor++
}

// Backspace clears the current cell, or retreats to the previous cell and
// clears it when the current one is already empty.
func (e *CodeEntry) Backspace() {
	if e.cursor < codeEntryCells && e.cells[e.cursor] != 0 {
		e.cells[e.cursor] = 0
		return
	}
	if e.cursor == 0 {
		return
	}
	e.cursor--
	e.cells[e.cursor] = 0
}

// Clear empties all cells and resets the cursor, as after a mismatch.
func (e *CodeEntry) Clear() {
	*e = CodeEntry{}
}

// Complete reports whether all four cells hold a digit.
func (e *CodeEntry) Complete() bool {
	for _, c := range e.cells {
		if c == 0 {
			return false
		}
	}
	return true
}

// Value returns the digits entered so far, in order.
func (e *CodeEntry) Value() string {
	var b strings.Builder
	for _, c := range e.cells {
		if c == 0 {
			break
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Cursor returns the index of the active cell.
func (e *CodeEntry) Cursor() int {
	return e.cursor
}
