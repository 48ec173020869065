package relay

import (
	"context"
	"fmt"
	"strings"
)

// Answerer produces the ordered fragments of an answer. Joining the
// fragments in order yields the full answer.
type Answerer interface {
	Answer(ctx context.Context, question string) ([]string, error)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, question string) ([]string, error)

// Answer calls f.
func (f AnswererFunc) Answer(ctx context.Context, question string) ([]string, error) {
	return f(ctx, question)
}

// EchoAnswerer answers by restating the question, one word per fragment.
type EchoAnswerer struct{}

// Answer implements Answerer.
func (EchoAnswerer) Answer(ctx context.Context, question string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return SplitWords(fmt.Sprintf("You asked: %s", strings.TrimSpace(question))), nil
}

// SplitWords splits text into word fragments that keep their trailing
// separator, so concatenation restores the normalized text.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	out := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		out[i] = w
	}
	return out
}
