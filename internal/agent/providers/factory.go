package providers

import (
	"fmt"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/config"
	"github.com/haasonsaas/jarvis/internal/observability"
)

// New builds the provider named name from its configuration entry.
func New(name string, cfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	typ := cfg.Type
	if typ == "" {
		typ = name
	}
	var (
		p   agent.LLMProvider
		err error
	)
	switch typ {
	case "openai":
		p, err = NewOpenAIProvider(OpenAIConfig{
			Name:         name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			Timeout:      cfg.Timeout,
			Headers:      cfg.Headers,
		})
	case "anthropic":
		p, err = NewAnthropicProvider(AnthropicConfig{
			Name:         name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			Timeout:      cfg.Timeout,
			Headers:      cfg.Headers,
		})
	case "google":
		p, err = NewGoogleProvider(GoogleConfig{
			Name:         name,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
			Timeout:      cfg.Timeout,
			Headers:      cfg.Headers,
		})
	case "webhook":
		p, err = NewWebhookProvider(WebhookConfig{
			Name:       name,
			URL:        cfg.BaseURL,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Timeout:    cfg.Timeout,
			Headers:    cfg.Headers,
		})
	case "mock":
		p = NewMockProvider(name, 0)
	default:
		return nil, fmt.Errorf("unknown provider type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", name, err)
	}
	return p, nil
}

// Set is the chat provider and the provider used for summarization.
type Set struct {
	Chat       agent.LLMProvider
	ChatModel  string
	Summarizer agent.LLMProvider
	// SummarizerModel is the summarizer entry's default model.
	SummarizerModel string
}

// FromConfig builds the default and summarizer providers. The summarizer
// reuses the chat provider when both names match. Fallback providers wrap
// the chat provider in a FailoverProvider. logger may be nil.
func FromConfig(cfg config.LLMConfig, logger *observability.Logger) (*Set, error) {
	chatCfg, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", cfg.DefaultProvider)
	}
	chat, err := New(cfg.DefaultProvider, chatCfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.FallbackProviders) > 0 {
		fallbacks := make([]agent.LLMProvider, 0, len(cfg.FallbackProviders))
		for _, name := range cfg.FallbackProviders {
			fbCfg, ok := cfg.Providers[name]
			if !ok {
				return nil, fmt.Errorf("fallback provider %q is not configured", name)
			}
			fb, err := New(name, fbCfg)
			if err != nil {
				return nil, err
			}
			fallbacks = append(fallbacks, fb)
		}
		chat = NewFailoverProvider(FailoverConfig{Cooldown: cfg.FailoverCooldown}, logger, chat, fallbacks...)
	}
	set := &Set{Chat: chat, ChatModel: chatCfg.DefaultModel, Summarizer: chat, SummarizerModel: chatCfg.DefaultModel}

	name := cfg.Summarizer()
	if name == cfg.DefaultProvider {
		return set, nil
	}
	sumCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("summarizer provider %q is not configured", name)
	}
	if set.Summarizer, err = New(name, sumCfg); err != nil {
		return nil, err
	}
	set.SummarizerModel = sumCfg.DefaultModel
	return set, nil
}
