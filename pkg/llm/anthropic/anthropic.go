// Package anthropic adapts the Anthropic Messages API to the engine's
// ChatModel interface.
package anthropic

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

const defaultMaxTokens = 2048

// Model is one configured Anthropic endpoint.
type Model struct {
	client    anthropic.Client
	model     string
	maxTokens int
	retryConf config.RetryConfig
}

// New builds a model from its configuration. When the config leaves
// the key empty the SDK reads ANTHROPIC_API_KEY itself.
func New(cfg config.ModelConfig) (*Model, error) {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
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
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		retryConf: retryConf,
	}, nil
}

// Name implements llmtypes.ChatModel.
func (m *Model) Name() string {
	return m.model
}

// Send converts the chain into Anthropic messages, submits the request
// with retries, and maps the content blocks back into a neutral
// response.
func (m *Model) Send(ctx context.Context, chain *llmtypes.Chain, opts llmtypes.SendOptions) (*llmtypes.Response, error) {
	maxTokens := m.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: int64(maxTokens),
		Messages:  ConvertChain(chain),
	}
	if system := chain.System(); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(opts.Tools) > 0 {
		params.Tools = ConvertTools(opts.Tools)
	}

	response, err := m.createMessageWithRetry(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "message request failed")
	}

	result := &llmtypes.Response{}
	var texts []string
	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, variant.Text)
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if raw := variant.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					logger.G(ctx).WithError(err).WithField("tool", variant.Name).Warn("failed to decode tool use input")
					continue
				}
			}
			result.Calls = append(result.Calls, llmtypes.ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}
	result.Message = strings.Join(texts, "\n")
	return result, nil
}

func (m *Model) createMessageWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var response *anthropic.Message
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
			response, apiErr = m.client.Messages.New(ctx, params)
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
			logger.G(ctx).WithError(err).WithField("attempt", n+1).WithField("max_attempts", m.retryConf.Attempts).Warn("retrying Anthropic API call")
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

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 600
	}

	// Non-API errors from the SDK are transport failures.
	return true
}

// ConvertChain maps the neutral payload chain onto Anthropic messages.
// The leading system payload is skipped here since the API carries it
// as a top-level parameter. Tool results ride in user messages the way
// the API expects.
func ConvertChain(chain *llmtypes.Chain) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for i, payload := range chain.Payloads() {
		switch payload.Role {
		case llmtypes.RoleSystem:
			if i == 0 {
				continue
			}
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(payload.TextContent())))
		case llmtypes.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(convertUserBlocks(payload)...))
		case llmtypes.RoleAssistant:
			messages = append(messages, convertAssistantPayload(payload))
		case llmtypes.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range payload.Parts {
				if part.Type != llmtypes.PartToolResult {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.CallID, part.Value, false))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return messages
}

func convertUserBlocks(payload llmtypes.Payload) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range payload.Parts {
		switch part.Type {
		case llmtypes.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case llmtypes.PartImage:
			mediaType, data := splitImageData(part.Data)
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		}
	}
	return blocks
}

func convertAssistantPayload(payload llmtypes.Payload) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	if text := payload.TextContent(); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, call := range payload.Calls {
		input := call.Args
		if input == nil {
			input = map[string]any{}
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfToolUse: &anthropic.ToolUseBlockParam{
				ID:    call.ID,
				Name:  call.Name,
				Input: input,
			},
		})
	}
	return anthropic.NewAssistantMessage(blocks...)
}

// ConvertTools expands neutral tool schemas into Anthropic's tool
// format.
func ConvertTools(schemas []llmtypes.ToolSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(schemas))
	for i, schema := range schemas {
		tools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        schema.Name,
				Description: anthropic.String(schema.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties(),
				},
			},
		}
	}
	return tools
}

// splitImageData separates host image data into a media type and bare
// base64 payload. Data URLs are unpacked; bare base64 (with or without
// the host's "base64|" prefix) gets a sniffed media type.
func splitImageData(data string) (string, string) {
	if strings.HasPrefix(data, "data:") {
		rest := strings.TrimPrefix(data, "data:")
		if idx := strings.Index(rest, ";base64,"); idx >= 0 {
			return rest[:idx], rest[idx+len(";base64,"):]
		}
	}
	raw := strings.TrimPrefix(data, "base64|")
	return detectMediaType(raw), raw
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
