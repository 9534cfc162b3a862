package order

import (
	"math/rand"
	"strings"
)

// codeLength is the number of digits in a human-facing order code.
const codeLength = 7

// DrawCode draws a candidate order code: codeLength random digits with
// a leading zero replaced by 1, so the code always reads as a positive
// integer of exactly codeLength digits. The replacement skews the first
// digit toward 1; that bias is accepted for the sake of a fixed width.
//
// Uniqueness is not checked here. The store's UNIQUE constraint on the
// code column is authoritative: callers assign the code with a write
// that fails on collision and redraw. Two concurrent draws of the same
// value therefore cannot both win.
func DrawCode() string {
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		d := byte(rand.Intn(10))
		if i == 0 && d == 0 {
			d = 1
		}
		b.WriteByte('0' + d)
	}
	return b.String()
}
