package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Identifier lengths used across the service.
const (
	PollIDLength     = 8
	QuestionIDLength = 6
	OptionIDLength   = 6
	SessionIDLength  = 21
)

const maxLength = 32

// New returns a random lowercase hex identifier of n characters.
// n is clamped to [1, 32], the number of hex digits in a UUID.
func New(n int) string {
	if n < 1 {
		n = 1
	}
	if n > maxLength {
		n = maxLength
	}
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:n]
}

// Poll returns a new poll identifier.
func Poll() string { return New(PollIDLength) }

// Question returns a new question identifier.
func Question() string { return New(QuestionIDLength) }

// Option returns a new option identifier.
func Option() string { return New(OptionIDLength) }

// Session returns a new participant session identifier.
func Session() string { return New(SessionIDLength) }
