package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/llm"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-4o-mini"

	// DefaultTranscriptionModel is used when Config.TranscriptionModel is empty.
	DefaultTranscriptionModel = "whisper-1"

	providerName = "openai"
)

// Config holds the settings for the OpenAI client.
type Config struct {
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string

	// MaxRetries is passed to the SDK. The orchestrator never retries a
	// failed turn itself, so this defaults to zero.
	MaxRetries int

	HTTPClient *http.Client
}

// Client talks to the chat completions and audio transcription endpoints.
type Client struct {
	sdk                openai.Client
	model              string
	transcriptionModel string
	logger             *slog.Logger
}

var (
	_ llm.Provider    = (*Client)(nil)
	_ llm.Transcriber = (*Client)(nil)
)

// NewClient creates a new OpenAI client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = DefaultTranscriptionModel
	}

	return &Client{
		sdk:                openai.NewClient(opts...),
		model:              model,
		transcriptionModel: transcriptionModel,
		logger:             logger,
	}, nil
}

// Name returns the provider name used in metrics.
func (c *Client) Name() string {
	return providerName
}

// Model returns the configured chat model.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat completion request with the declared tools.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.Completion, error) {
	ctx, span := instrumentation.StartModelSpan(ctx, providerName, c.model)
	defer span.End()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toMessageParams(messages),
	}
	if len(tools) > 0 {
		params.Tools = toToolParams(tools)
	}

	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, describeError(err)
	}
	if len(completion.Choices) == 0 {
		err := fmt.Errorf("model returned no choices")
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	msg := completion.Choices[0].Message
	out := &llm.Completion{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	c.logger.Debug("chat completion received",
		"model", c.model,
		"tool_calls", len(out.ToolCalls),
		"finish_reason", completion.Choices[0].FinishReason)

	instrumentation.SetSpanSuccess(span)
	return out, nil
}

// Transcribe converts an audio recording to text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	ctx, span := instrumentation.StartModelSpan(ctx, providerName, c.transcriptionModel)
	defer span.End()

	if filename == "" {
		filename = "audio.m4a"
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := c.sdk.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.transcriptionModel),
		File:  openai.File(audio, filename, contentType),
	})
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return "", describeError(err)
	}

	instrumentation.SetSpanSuccess(span)
	return strings.TrimSpace(res.Text), nil
}

func toMessageParams(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			params = append(params, openai.UserMessage(m.Content))
		case llm.RoleTool:
			params = append(params, openai.ToolMessage(m.Content, m.ToolCallID))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				params = append(params, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					},
				})
			}
			params = append(params, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return params
}

func toToolParams(tools []llm.ToolSchema) []openai.ChatCompletionToolUnionParam {
	params := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		params = append(params, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.Parameters),
		}))
	}
	return params
}

// describeError keeps the API status code in the message without leaking the
// request body.
func describeError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai request failed with status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("openai request failed: %w", err)
}
