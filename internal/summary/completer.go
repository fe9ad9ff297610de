package summary

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

var (
	// ErrInvalidOutput indicates the model reply was not the expected JSON.
	ErrInvalidOutput = errors.New("summary: invalid output")

	// ErrEmptyTranscript indicates there was nothing to summarize.
	ErrEmptyTranscript = errors.New("summary: empty transcript")
)

// Completer runs one chat completion: system prompt plus user text in, text out.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.3
)

// AgentCompleter runs single-turn completions through the agents SDK.
type AgentCompleter struct {
	provider    agents.ModelProvider
	model       string
	temperature float64
}

// NewAgentCompleter returns a completer backed by the OpenAI provider.
func NewAgentCompleter(apiKey, model string, temperature float64) *AgentCompleter {
	provider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		APIKey: param.NewOpt(apiKey),
	})
	return NewAgentCompleterWithProvider(provider, model, temperature)
}

func NewAgentCompleterWithProvider(provider agents.ModelProvider, model string, temperature float64) *AgentCompleter {
	if model == "" {
		model = DefaultModel
	}
	return &AgentCompleter{provider: provider, model: model, temperature: temperature}
}

func (a *AgentCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	agent := agents.New("summarizer").
		WithInstructions(system).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			Temperature: param.NewOpt(a.temperature),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	result, err := runner.Run(ctx, agent, user)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	out, ok := result.FinalOutput.(string)
	if !ok {
		return "", fmt.Errorf("%w: final output is %T", ErrInvalidOutput, result.FinalOutput)
	}
	return out, nil
}
