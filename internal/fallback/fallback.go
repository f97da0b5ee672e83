// Package fallback negotiates a replacement model after persistent
// rate-limit failures. The turn engine itself never switches models; the
// caller consults the chain between turns and re-runs on the next
// candidate.
package fallback

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fahadkaleem/alfred-cli/internal/provider"
)

// Candidate is one provider/model pair in the chain.
type Candidate struct {
	Provider string
	Model    string
}

func (c Candidate) String() string {
	return c.Provider + "/" + c.Model
}

// Parse reads a "provider/model" string.
func Parse(s string) (Candidate, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Candidate{}, fmt.Errorf("fallback: candidate %q is not provider/model", s)
	}
	return Candidate{Provider: parts[0], Model: parts[1]}, nil
}

// Attempt records one exhausted candidate.
type Attempt struct {
	Candidate Candidate
	Class     provider.FailureClass
	Err       error
}

// Chain walks an ordered candidate list, advancing only on failures whose
// class triggers fallback. Safe for concurrent use.
type Chain struct {
	mu         sync.Mutex
	candidates []Candidate
	idx        int
	attempts   []Attempt
}

// NewChain creates a chain starting at primary.
func NewChain(primary Candidate, fallbacks ...Candidate) *Chain {
	return &Chain{candidates: append([]Candidate{primary}, fallbacks...)}
}

// Current returns the active candidate.
func (c *Chain) Current() Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candidates[c.idx]
}

// Advance records err against the active candidate and moves to the next
// one when the failure class warrants it and another candidate remains.
// It returns the candidate to use next and whether a switch happened.
func (c *Chain) Advance(err error) (Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	class := provider.ClassifyError(err)
	if !class.TriggersFallback() || c.idx >= len(c.candidates)-1 {
		return c.candidates[c.idx], false
	}
	c.attempts = append(c.attempts, Attempt{
		Candidate: c.candidates[c.idx],
		Class:     class,
		Err:       err,
	})
	c.idx++
	return c.candidates[c.idx], true
}

// Attempts returns the exhausted candidates in order.
func (c *Chain) Attempts() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attempt, len(c.attempts))
	copy(out, c.attempts)
	return out
}

// Reset returns the chain to its primary candidate and clears the
// attempt record.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = 0
	c.attempts = nil
}
