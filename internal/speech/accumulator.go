package speech

import (
	"strings"
	"sync"
)

// Accumulator is the draft text of a chat input. Dictated bursts are appended
// to whatever is already there.
type Accumulator struct {
	mu sync.Mutex
	b  strings.Builder
}

// Append adds text and returns the whole draft.
func (a *Accumulator) Append(text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.b.WriteString(text)
	return a.b.String()
}

func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.b.String()
}

// Take returns the draft and clears it.
func (a *Accumulator) Take() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.b.String()
	a.b.Reset()
	return s
}
