package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockEngine answers without any model. Replies echo the incoming message;
// requests without a stop sequence are treated as summarization.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (e *MockEngine) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	if len(req.Stop) == 0 {
		return Response{Text: buildMockSummary(req.Prompt)}, nil
	}
	return Response{Text: buildMockReply(req.Prompt)}, nil
}

// buildMockReply echoes the line right above the trailing bot cue.
func buildMockReply(prompt string) string {
	lines := strings.Split(strings.TrimRight(prompt, "\n"), "\n")
	if len(lines) < 2 {
		return "I am listening."
	}
	last := lines[len(lines)-2]
	if i := strings.Index(last, ": "); i >= 0 {
		last = last[i+2:]
	}
	last = strings.TrimSpace(last)
	if last == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", last)
}

func buildMockSummary(prompt string) string {
	lines := 0
	for _, line := range strings.Split(prompt, "\n") {
		if strings.Contains(line, ": ") {
			lines++
		}
	}
	return fmt.Sprintf("The conversation so far had %d spoken lines.", lines)
}
