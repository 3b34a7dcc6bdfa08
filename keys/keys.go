// Package keys generates the opaque identifiers handed out for uploads.
//
// A key is 21 characters drawn from a 64-symbol URL-safe alphabet, about 126
// bits of entropy. Lookup and deletion keys are generated independently, so a
// deletion key cannot be derived from the lookup key it was issued with.
package keys // import "github.com/nicolagi/imgdrop/keys"

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Alphabet is the set of symbols keys are drawn from.
	Alphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// Length of generated keys.
	Length = 21

	// Keys longer than this are never valid, whatever generator produced them.
	maxLength = 64
)

// Generator produces a new key on every call.
type Generator func() (string, error)

// New returns a fresh random key.
func New() (string, error) {
	key, err := gonanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("could not generate key: %w", err)
	}
	return key, nil
}

// Pair returns a lookup key and a deletion key from two independent draws.
func Pair(gen Generator) (lookup, deletion string, err error) {
	if gen == nil {
		gen = New
	}
	if lookup, err = gen(); err != nil {
		return "", "", err
	}
	if deletion, err = gen(); err != nil {
		return "", "", err
	}
	return lookup, deletion, nil
}

// Valid reports whether s could be a key. Anything else, in particular
// anything containing a path separator or a dot, is rejected before it gets
// near a store.
func Valid(s string) bool {
	if s == "" || len(s) > maxLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
