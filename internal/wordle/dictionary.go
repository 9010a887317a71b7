package wordle

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
)

//go:embed words.txt
var embeddedWords []byte

// ErrNotAWord marks a well-formed guess that is not in the dictionary.
var ErrNotAWord = errors.New("not a valid word")

// Dictionary is the word source: it owns the set of playable five-letter
// words and hands out random targets.
type Dictionary struct {
	words []string
	set   map[string]struct{}
}

// NewDictionary builds a dictionary from the given words. Words are
// upper-cased; anything that is not five letters is rejected.
func NewDictionary(words []string) (*Dictionary, error) {
	d := &Dictionary{set: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.ToUpper(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if err := ValidateGuess(w); err != nil {
			return nil, fmt.Errorf("dictionary: bad word %q: %w", w, err)
		}
		if _, dup := d.set[w]; dup {
			continue
		}
		d.set[w] = struct{}{}
		d.words = append(d.words, w)
	}
	if len(d.words) == 0 {
		return nil, errors.New("dictionary: no words")
	}
	return d, nil
}

// LoadDictionary reads one word per line from path. An empty path falls back
// to the embedded word list.
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return Embedded()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	defer f.Close()

	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("dictionary: read %s: %w", path, err)
	}
	return NewDictionary(words)
}

// Embedded returns the dictionary built from the compiled-in word list.
func Embedded() (*Dictionary, error) {
	var words []string
	sc := bufio.NewScanner(bytes.NewReader(embeddedWords))
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	return NewDictionary(words)
}

// Random returns a uniformly random word from the dictionary.
func (d *Dictionary) Random() string {
	return d.words[rand.IntN(len(d.words))]
}

// Contains reports whether w is a playable word.
func (d *Dictionary) Contains(w string) bool {
	_, ok := d.set[strings.ToUpper(w)]
	return ok
}

// Len returns the number of words in the dictionary.
func (d *Dictionary) Len() int {
	return len(d.words)
}
