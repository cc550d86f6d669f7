package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docrag-go/internal/budget"
	"github.com/54b3r/docrag-go/internal/logging"
)

// Generator synthesises an answer from a fully rendered prompt.
// Implementations own any retry policy; the Assistant never retries.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatGenerator adapts an Eino chat model to Generator by sending the prompt
// as a single user message.
type ChatGenerator struct {
	model model.BaseChatModel
	opts  []model.Option
}

// NewChatGenerator wraps m. opts are passed to every Generate call.
func NewChatGenerator(m model.BaseChatModel, opts ...model.Option) *ChatGenerator {
	return &ChatGenerator{model: m, opts: opts}
}

// Complete implements Generator.
func (g *ChatGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	msgs := []*schema.Message{schema.UserMessage(prompt)}
	logging.FromContext(ctx).DebugContext(ctx, "agent: generating answer",
		slog.Int("estimated_tokens", budget.EstimateMessages(msgs)),
	)

	msg, err := g.model.Generate(ctx, msgs, g.opts...)
	if err != nil {
		return "", fmt.Errorf("agent: chat model generate: %w", err)
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}
