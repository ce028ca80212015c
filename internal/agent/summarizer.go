package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/jarvis/internal/sessions"
	"github.com/haasonsaas/jarvis/pkg/models"
)

const summarizationPrompt = `You are a conversation summarizer. Analyze the following chat conversation and provide:

1. A concise summary (2-4 sentences) capturing the main topics and outcomes
2. A list of 3-5 key topics/themes discussed

Format your response as JSON:
{
    "summary": "Your concise summary here...",
    "topics": ["topic1", "topic2", "topic3"]
}

CONVERSATION:
`

const summarizerSystem = "You are a helpful assistant that summarizes conversations. Always respond with valid JSON."

// maxSummarizedMessageRunes truncates long messages in the transcript.
const maxSummarizedMessageRunes = 2000

// LLMSummarizer condenses a session transcript with a model.
type LLMSummarizer struct {
	provider  LLMProvider
	model     string
	maxTokens int
}

var _ sessions.Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer creates a summarizer. model may be empty.
func NewLLMSummarizer(provider LLMProvider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model, maxTokens: 1024}
}

// Summarize asks the model for a JSON summary. A reply that is not valid
// JSON is used verbatim as the summary with no topics.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []*models.Message) (sessions.SummaryResult, error) {
	if s == nil || s.provider == nil {
		return sessions.SummaryResult{}, ErrNoProvider
	}
	if len(messages) == 0 {
		return sessions.SummaryResult{}, errors.New("no messages to summarize")
	}

	req := &CompletionRequest{
		Model:  s.model,
		System: summarizerSystem,
		Messages: []CompletionMessage{{
			Role:    string(models.RoleUser),
			Content: summarizationPrompt + "\n" + formatTranscript(messages),
		}},
		MaxTokens: s.maxTokens,
	}
	text, err := Collect(ctx, s.provider, req)
	if err != nil {
		return sessions.SummaryResult{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return sessions.SummaryResult{}, errors.New("model returned an empty summary")
	}
	return parseSummary(text), nil
}

// Collect drains a completion into its text. Tool calls are ignored.
func Collect(ctx context.Context, provider LLMProvider, req *CompletionRequest) (string, error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return "", NewModelProviderError(provider.Name(), err)
	}
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return b.String(), nil
			}
			if chunk == nil {
				continue
			}
			if chunk.Error != nil {
				return "", NewModelProviderError(provider.Name(), chunk.Error)
			}
			b.WriteString(chunk.Text)
			if chunk.Done {
				return b.String(), nil
			}
		}
	}
}

func formatTranscript(messages []*models.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		content := sessions.Preview(msg.Content, maxSummarizedMessageRunes)
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(msg.Role)), content))
	}
	return strings.Join(lines, "\n")
}

func parseSummary(text string) sessions.SummaryResult {
	var parsed struct {
		Summary string   `json:"summary"`
		Topics  []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return sessions.SummaryResult{Summary: text}
	}
	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		summary = text
	}
	topics := make([]string, 0, len(parsed.Topics))
	for _, t := range parsed.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return sessions.SummaryResult{Summary: summary, Topics: topics}
}

// stripCodeFence returns the body of the first ``` block, or text unchanged.
func stripCodeFence(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var body []string
	inside := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inside {
				break
			}
			inside = true
			continue
		}
		if inside {
			body = append(body, line)
		}
	}
	if len(body) == 0 {
		return text
	}
	return strings.Join(body, "\n")
}
