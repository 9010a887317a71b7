package wordle

import (
	"errors"
	"fmt"
)

// WordLength is the fixed length of every target and guess.
const WordLength = 5

// Color is the per-letter feedback for a guess.
type Color string

const (
	Green  Color = "green"
	Yellow Color = "yellow"
	Gray   Color = "gray"
)

// Feedback holds one color per guess position.
type Feedback [WordLength]Color

// ErrInvalidGuess marks a guess that is not five ASCII letters.
var ErrInvalidGuess = errors.New("invalid guess")

// ValidateGuess checks that s is exactly five ASCII letters.
func ValidateGuess(s string) error {
	if len(s) != WordLength {
		return fmt.Errorf("%w: must be exactly %d letters", ErrInvalidGuess, WordLength)
	}
	for _, c := range []byte(s) {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return fmt.Errorf("%w: letters only", ErrInvalidGuess)
		}
	}
	return nil
}

// Evaluate scores guess against target and reports whether the guess solved
// it. Both inputs must already be valid five-letter words; casing is ignored.
//
// Two passes: exact matches go green first and consume their letter from the
// target, then remaining positions go yellow while the target still holds an
// unconsumed copy of the letter, else gray. The consumption order keeps
// repeated letters honest (guess SPEED against ERASE yields one green E and
// one yellow E, never two yellows).
func Evaluate(guess, target string) (Feedback, bool) {
	g := normalize(guess)
	t := normalize(target)

	var fb Feedback
	var remaining [26]int

	for i := 0; i < WordLength; i++ {
		if g[i] == t[i] {
			fb[i] = Green
		} else {
			remaining[t[i]-'A']++
		}
	}

	solved := true
	for i := 0; i < WordLength; i++ {
		if fb[i] == Green {
			continue
		}
		solved = false
		if remaining[g[i]-'A'] > 0 {
			remaining[g[i]-'A']--
			fb[i] = Yellow
		} else {
			fb[i] = Gray
		}
	}
	return fb, solved
}

func normalize(s string) []byte {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return b
}
