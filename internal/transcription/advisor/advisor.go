// Package advisor turns finalized transcript segments into operator hints:
// objections to handle and buying signals to act on.
package advisor

import (
	"context"
	"errors"
)

// Kind is the suggestion category.
type Kind string

const (
	KindObjection      Kind = "objection"
	KindPositiveSignal Kind = "positive_signal"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindObjection || k == KindPositiveSignal
}

// Suggestion is an ephemeral hint shown to the operator.
type Suggestion struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Input is what an analyzer sees: the newest final segment plus the final
// transcript so far, oldest first, including Segment.
type Input struct {
	Segment    string
	Transcript []string
}

// Analyzer inspects a segment. A nil suggestion with a nil error means
// nothing worth showing.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (*Suggestion, error)
}

// Chain asks each analyzer in turn and returns the first suggestion.
type Chain []Analyzer

func (c Chain) Analyze(ctx context.Context, in Input) (*Suggestion, error) {
	var errs []error
	for _, a := range c {
		if a == nil {
			continue
		}
		s, err := a.Analyze(ctx, in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s != nil {
			return s, nil
		}
	}
	return nil, errors.Join(errs...)
}
