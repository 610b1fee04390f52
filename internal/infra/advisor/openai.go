package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/vietddude/inframate/internal/core/domain"
)

const systemPrompt = "You are an infrastructure deployment expert. " +
	"You analyze Terraform and CI errors and answer only with JSON."

// OpenAIConfig holds settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // empty = api.openai.com; also works for Gemini's OpenAI-compatible endpoint
	Temperature float32
	MaxTokens   int
}

// OpenAI asks a chat completion model for a solution.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI creates an advisor backed by an OpenAI-compatible API.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("advisor api key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
		slog.Warn("Advisor model not set, defaulting", "model", cfg.Model)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing AI advisor", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Advise implements Advisor.
func (o *OpenAI) Advise(ctx context.Context, req Request) (*domain.Solution, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		Temperature: o.temperature,
	}
	if o.maxTokens > 0 {
		chatReq.MaxCompletionTokens = o.maxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("advisor chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoResponse
	}

	slog.Debug("Received advisor response",
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return ParseSolution(resp.Choices[0].Message.Content)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Analyze this error from the Inframate infrastructure pipeline and provide recovery steps.\n\n")
	fmt.Fprintf(&b, "ERROR TYPE: %s\n", req.ErrorType)
	fmt.Fprintf(&b, "SEVERITY: %s\n", req.Severity)
	if v, ok := req.ContextData[KeyWorkflowName].(string); ok {
		fmt.Fprintf(&b, "WORKFLOW: %s\n", v)
	}
	if v, ok := req.ContextData[KeyFailedJob].(string); ok {
		fmt.Fprintf(&b, "FAILED JOB: %s\n", v)
	}
	fmt.Fprintf(&b, "ERROR MESSAGE:\n%s\n", Excerpt(req.Message, MaxLogExcerpt))
	if v, ok := req.ContextData[KeyErrorLogs].(string); ok && v != "" {
		fmt.Fprintf(&b, "ERROR LOGS (excerpt):\n%s\n", Excerpt(v, MaxLogExcerpt))
	}

	extra := make(map[string]any, len(req.ContextData))
	for k, v := range req.ContextData {
		if k != KeyWorkflowName && k != KeyFailedJob && k != KeyErrorLogs {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		if data, err := json.Marshal(extra); err == nil {
			fmt.Fprintf(&b, "CONTEXT: %s\n", data)
		}
	}

	b.WriteString(`
Respond with a JSON object with these keys:
- "root_cause": brief explanation of what caused the error
- "solution": array of specific commands or actions to fix the issue
- "prevention": how to prevent this error in the future
`)
	return b.String()
}
