package providers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent"
)

// drain collects every chunk until the channel closes.
func drain(t *testing.T, chunks <-chan *agent.CompletionChunk) []*agent.CompletionChunk {
	t.Helper()
	var out []*agent.CompletionChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func textOf(chunks []*agent.CompletionChunk) string {
	var s string
	for _, c := range chunks {
		s += c.Text
	}
	return s
}

func lastChunk(t *testing.T, chunks []*agent.CompletionChunk) *agent.CompletionChunk {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	return chunks[len(chunks)-1]
}

func userRequest(text string) *agent.CompletionRequest {
	return &agent.CompletionRequest{
		System:   "be brief",
		Messages: []agent.CompletionMessage{{Role: "user", Content: text}},
	}
}

func background() context.Context {
	return context.Background()
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
