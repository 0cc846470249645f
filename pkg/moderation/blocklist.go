// Package moderation provides ports.Moderator implementations.
package moderation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Blocklist rejects text containing any listed word. Matching is by whole
// word, after Unicode normalisation and case folding.
type Blocklist struct {
	words map[string]struct{}
}

// NewBlocklist builds a blocklist from words. Blank entries are ignored.
func NewBlocklist(words ...string) *Blocklist {
	b := &Blocklist{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		if w = b.normalize(strings.TrimSpace(w)); w != "" {
			b.words[w] = struct{}{}
		}
	}
	return b
}

// LoadBlocklist reads one word per line from path. Lines starting with '#'
// are comments.
func LoadBlocklist(path string) (*Blocklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blocklist: %w", err)
	}
	defer f.Close()
	return ReadBlocklist(f)
}

// ReadBlocklist is LoadBlocklist over a reader.
func ReadBlocklist(r io.Reader) (*Blocklist, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}
	return NewBlocklist(words...), nil
}

// Len returns the number of distinct blocked words.
func (b *Blocklist) Len() int { return len(b.words) }

// Check reports whether text is free of blocked words.
func (b *Blocklist) Check(_ context.Context, text string) (bool, error) {
	if len(b.words) == 0 {
		return true, nil
	}
	tokens := strings.FieldsFunc(b.normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		if _, blocked := b.words[tok]; blocked {
			return false, nil
		}
	}
	return true, nil
}

// normalize folds s for matching. Casers are stateful, so each call gets its own.
func (b *Blocklist) normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}
