// Package openai adapts OpenAI and OpenAI-compatible chat completion
// APIs to the engine's ChatModel interface.
package openai

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

const defaultMaxTokens = 2048

// Model is one configured OpenAI-compatible endpoint.
type Model struct {
	client    *openai.Client
	model     string
	maxTokens int
	retryConf config.RetryConfig
}

// New builds a model from its configuration. The API key falls back to
// OPENAI_API_KEY when the config leaves it empty.
func New(cfg config.ModelConfig) (*Model, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("OpenAI API key not set, set models.<task>.api_key or OPENAI_API_KEY")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	retryConf := cfg.Retry
	if retryConf.Attempts == 0 {
		retryConf = config.DefaultRetry
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Model{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: maxTokens,
		retryConf: retryConf,
	}, nil
}

// Name implements llmtypes.ChatModel.
func (m *Model) Name() string {
	return m.model
}

// Send converts the chain into OpenAI messages, submits the request
// with retries, and maps the first choice back into a neutral response.
func (m *Model) Send(ctx context.Context, chain *llmtypes.Chain, opts llmtypes.SendOptions) (*llmtypes.Response, error) {
	maxTokens := m.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	request := openai.ChatCompletionRequest{
		Model:     m.model,
		Messages:  ConvertChain(chain),
		MaxTokens: maxTokens,
	}
	if len(opts.Tools) > 0 {
		request.Tools = ConvertTools(opts.Tools)
	}

	response, err := m.createChatCompletionWithRetry(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion failed")
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("no choices in chat completion response")
	}

	choice := response.Choices[0].Message
	result := &llmtypes.Response{Message: choice.Content}
	for _, call := range choice.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				logger.G(ctx).WithError(err).WithField("tool", call.Function.Name).Warn("failed to decode tool call arguments")
				continue
			}
		}
		result.Calls = append(result.Calls, llmtypes.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		})
	}
	return result, nil
}

func (m *Model) createChatCompletionWithRetry(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var response openai.ChatCompletionResponse
	var originalErrors []error

	initialDelay := time.Duration(m.retryConf.InitialDelay) * time.Millisecond
	maxDelay := time.Duration(m.retryConf.MaxDelay) * time.Millisecond

	var delayType retry.DelayTypeFunc
	switch m.retryConf.BackoffType {
	case "fixed":
		delayType = retry.FixedDelay
	case "exponential":
		fallthrough
	default:
		delayType = retry.BackOffDelay
	}

	err := retry.Do(
		func() error {
			var apiErr error
			response, apiErr = m.client.CreateChatCompletion(ctx, request)
			if apiErr != nil {
				originalErrors = append(originalErrors, apiErr)
			}
			return apiErr
		},
		retry.RetryIf(isRetryableError),
		retry.Attempts(uint(m.retryConf.Attempts)),
		retry.Delay(initialDelay),
		retry.DelayType(delayType),
		retry.MaxDelay(maxDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("max_attempts", m.retryConf.Attempts).Warn("retrying OpenAI API call")
		}),
	)

	if err != nil && len(originalErrors) > 0 {
		return response, errors.Wrapf(err, "all %d retry attempts failed, original errors: %v", len(originalErrors), originalErrors)
	}

	return response, err
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		statusCode := apiErr.HTTPStatusCode
		return statusCode >= 400 && statusCode < 600
	}

	var httpErr *openai.RequestError
	if errors.As(err, &httpErr) {
		return true
	}

	return false
}

// ConvertChain maps the neutral payload chain onto OpenAI messages.
// Assistant tool calls are replayed in OpenAI's native form and tool
// result parts become role "tool" messages so the API accepts the
// transcript as its own.
func ConvertChain(chain *llmtypes.Chain) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	for _, payload := range chain.Payloads() {
		switch payload.Role {
		case llmtypes.RoleSystem:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: payload.TextContent(),
			})
		case llmtypes.RoleUser:
			messages = append(messages, convertUserPayload(payload))
		case llmtypes.RoleAssistant:
			messages = append(messages, convertAssistantPayload(payload))
		case llmtypes.RoleTool:
			for _, part := range payload.Parts {
				if part.Type != llmtypes.PartToolResult {
					continue
				}
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    part.Value,
					ToolCallID: part.CallID,
				})
			}
		}
	}
	return messages
}

func convertUserPayload(payload llmtypes.Payload) openai.ChatCompletionMessage {
	if !payload.HasImages() {
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: payload.TextContent(),
		}
	}

	var contentParts []openai.ChatMessagePart
	for _, part := range payload.Parts {
		switch part.Type {
		case llmtypes.PartText:
			contentParts = append(contentParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case llmtypes.PartImage:
			contentParts = append(contentParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    imageDataURL(part.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: contentParts,
	}
}

func convertAssistantPayload(payload llmtypes.Payload) openai.ChatCompletionMessage {
	message := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: payload.TextContent(),
	}
	for _, call := range payload.Calls {
		arguments := "{}"
		if len(call.Args) > 0 {
			if encoded, err := json.Marshal(call.Args); err == nil {
				arguments = string(encoded)
			}
		}
		message.ToolCalls = append(message.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: arguments,
			},
		})
	}
	return message
}

// ConvertTools expands neutral tool schemas into OpenAI's function
// format.
func ConvertTools(schemas []llmtypes.ToolSchema) []openai.Tool {
	tools := make([]openai.Tool, len(schemas))
	for i, schema := range schemas {
		tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.FunctionParameters(),
			},
		}
	}
	return tools
}

// imageDataURL normalizes host image data into a data URL. Full data
// URLs pass through; bare base64 (with or without the host's "base64|"
// prefix) is wrapped with a sniffed media type.
func imageDataURL(data string) string {
	if strings.HasPrefix(data, "data:") {
		return data
	}
	raw := strings.TrimPrefix(data, "base64|")
	return "data:" + detectMediaType(raw) + ";base64," + raw
}

// detectMediaType sniffs the image format from base64 magic bytes.
func detectMediaType(b64 string) string {
	switch {
	case strings.HasPrefix(b64, "iVBOR"):
		return "image/png"
	case strings.HasPrefix(b64, "/9j/"):
		return "image/jpeg"
	case strings.HasPrefix(b64, "R0lGOD"):
		return "image/gif"
	case strings.HasPrefix(b64, "UklGR"):
		return "image/webp"
	}
	return "image/jpeg"
}
