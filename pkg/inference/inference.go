package inference

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"

	"gombonmongoli/pkg/config"
)

// Inferencer runs one system + user prompt against a chat model and returns the raw reply.
type Inferencer interface {
	Infer(ctx context.Context, params *openai.ChatCompletionNewParams, system, user string) (string, error)
	Name() string
}

var ErrNoBackend = errors.New("no inference backend configured")

// FromConfig picks the backend from the configured API keys. OpenAI wins when both are
// set. It returns ErrNoBackend when neither is.
func FromConfig(ctx context.Context, cfg config.Config) (Inferencer, error) {
	switch {
	case cfg.OpenAIKey != "":
		o := NewOpenAIInferencer(cfg.OpenAIKey, cfg.OpenAIModel)
		if cfg.OpenAIBaseURL != "" {
			o.ChangeBaseURL(cfg.OpenAIBaseURL)
		}
		log.Info("model roasts enabled", "backend", o.Name(), "model", cfg.OpenAIModel)
		return o, nil
	case cfg.GeminiKey != "":
		g, err := NewGeminiInferencer(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		log.Info("model roasts enabled", "backend", g.Name(), "model", g.model)
		return g, nil
	default:
		return nil, ErrNoBackend
	}
}
