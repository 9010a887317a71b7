package wordle

import (
	"errors"
	"strings"
	"testing"
)

func fb(colors ...Color) Feedback {
	var f Feedback
	copy(f[:], colors)
	return f
}

func TestEvaluateExactMatch(t *testing.T) {
	got, solved := Evaluate("CRANE", "CRANE")
	if !solved {
		t.Fatal("expected solved")
	}
	want := fb(Green, Green, Green, Green, Green)
	if got != want {
		t.Errorf("expected all green, got %v", got)
	}
}

func TestEvaluateRepeatedLettersConsumed(t *testing.T) {
	// L appears three times in the guess but only twice in ALLOT: one green
	// at position 3, one yellow at position 1, and the third L goes gray.
	got, solved := Evaluate("LOLLY", "ALLOT")
	if solved {
		t.Fatal("expected not solved")
	}
	want := fb(Yellow, Yellow, Green, Gray, Gray)
	if got != want {
		t.Errorf("LOLLY vs ALLOT: expected %v, got %v", want, got)
	}
}

func TestEvaluateDoubleLetterYellows(t *testing.T) {
	// ERASE holds two Es, so both guessed Es stay yellow; the S is present
	// once and the rest miss.
	got, solved := Evaluate("SPEED", "ERASE")
	if solved {
		t.Fatal("expected not solved")
	}
	want := fb(Yellow, Gray, Yellow, Yellow, Gray)
	if got != want {
		t.Errorf("SPEED vs ERASE: expected %v, got %v", want, got)
	}
}

func TestEvaluateGreenConsumesBeforeYellow(t *testing.T) {
	// GREEN's trailing E and N match SEVEN exactly; the unconsumed E at
	// position 2 still earns a yellow from SEVEN's other E.
	got, _ := Evaluate("GREEN", "SEVEN")
	want := fb(Gray, Gray, Yellow, Green, Green)
	if got != want {
		t.Errorf("GREEN vs SEVEN: expected %v, got %v", want, got)
	}
}

func TestEvaluateCaseInsensitive(t *testing.T) {
	got, solved := Evaluate("crane", "CRANE")
	if !solved {
		t.Errorf("expected lowercase guess to solve, got %v", got)
	}
}

func TestEvaluateGreensMatchPositions(t *testing.T) {
	pairs := [][2]string{
		{"CRANE", "CRATE"},
		{"STONE", "NOTES"},
		{"ALLOT", "LOYAL"},
		{"SPEED", "SPEND"},
		{"WORLD", "WORDS"},
	}
	for _, p := range pairs {
		guess, target := p[0], p[1]
		got, _ := Evaluate(guess, target)

		for i := 0; i < WordLength; i++ {
			if (got[i] == Green) != (guess[i] == target[i]) {
				t.Errorf("%s vs %s: position %d color %s disagrees with letters", guess, target, i, got[i])
			}
		}

		// Greens plus yellows for any letter never exceed that letter's
		// count in the target.
		var marked, available [26]int
		for i := 0; i < WordLength; i++ {
			available[target[i]-'A']++
			if got[i] != Gray {
				marked[guess[i]-'A']++
			}
		}
		for c := 0; c < 26; c++ {
			if marked[c] > available[c] {
				t.Errorf("%s vs %s: letter %c marked %d times but target has %d", guess, target, 'A'+c, marked[c], available[c])
			}
		}
	}
}

func TestValidateGuess(t *testing.T) {
	if err := ValidateGuess("CRANE"); err != nil {
		t.Errorf("expected CRANE to validate, got %v", err)
	}
	if err := ValidateGuess("crane"); err != nil {
		t.Errorf("expected lowercase to validate, got %v", err)
	}
	for _, bad := range []string{"", "CRAN", "CRANES", "CR4NE", "CRAN!", "ÀBCDE"} {
		err := ValidateGuess(bad)
		if !errors.Is(err, ErrInvalidGuess) {
			t.Errorf("expected ErrInvalidGuess for %q, got %v", bad, err)
		}
	}
}

func TestDictionaryEmbedded(t *testing.T) {
	d, err := Embedded()
	if err != nil {
		t.Fatalf("embedded dictionary: %v", err)
	}
	if d.Len() < 100 {
		t.Errorf("expected a substantial embedded list, got %d words", d.Len())
	}
	if !d.Contains("ALLOT") {
		t.Error("expected ALLOT in embedded dictionary")
	}
	if !d.Contains("allot") {
		t.Error("expected Contains to ignore case")
	}
	if d.Contains("ZZZZZ") {
		t.Error("did not expect ZZZZZ in dictionary")
	}
}

func TestDictionaryRandom(t *testing.T) {
	d, err := NewDictionary([]string{"CRANE", "STONE", "ERASE"})
	if err != nil {
		t.Fatalf("NewDictionary: %v", err)
	}
	for i := 0; i < 50; i++ {
		w := d.Random()
		if !d.Contains(w) {
			t.Fatalf("Random returned %q which is not in the dictionary", w)
		}
		if w != strings.ToUpper(w) {
			t.Fatalf("Random returned non-uppercase word %q", w)
		}
	}
}

func TestDictionaryRejectsBadWords(t *testing.T) {
	if _, err := NewDictionary([]string{"TOOLONGWORD"}); err == nil {
		t.Error("expected error for overlong word")
	}
	if _, err := NewDictionary(nil); err == nil {
		t.Error("expected error for empty dictionary")
	}
}
