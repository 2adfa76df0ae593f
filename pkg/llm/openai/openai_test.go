package openai

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

func TestConvertChainRoles(t *testing.T) {
	chain := llmtypes.NewChain(0)
	chain.Add(llmtypes.NewPayload(llmtypes.RoleSystem, llmtypes.Text("you are a cat")))
	chain.Add(llmtypes.NewPayload(llmtypes.RoleUser, llmtypes.Text("hello")))
	chain.Add(llmtypes.NewPayload(llmtypes.RoleAssistant, llmtypes.Text("meow")))

	messages := ConvertChain(chain)
	require.Len(t, messages, 3)

	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, "you are a cat", messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, messages[1].Role)
	assert.Equal(t, "hello", messages[1].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, messages[2].Role)
	assert.Equal(t, "meow", messages[2].Content)
}

func TestConvertChainToolReplay(t *testing.T) {
	chain := llmtypes.NewChain(0)
	chain.Add(llmtypes.Payload{
		Role:  llmtypes.RoleAssistant,
		Parts: []llmtypes.Part{llmtypes.Text("想一下")},
		Calls: []llmtypes.ToolCall{
			{ID: "call-1", Name: "kfc_reply", Args: map[string]any{"content": "好呀"}},
		},
	})
	chain.Add(llmtypes.NewPayload(llmtypes.RoleTool, llmtypes.ToolResult("call-1", "kfc_reply", "已发送")))

	messages := ConvertChain(chain)
	require.Len(t, messages, 2)

	assistant := messages[0]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call-1", assistant.ToolCalls[0].ID)
	assert.Equal(t, openai.ToolTypeFunction, assistant.ToolCalls[0].Type)
	assert.Equal(t, "kfc_reply", assistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"content":"好呀"}`, assistant.ToolCalls[0].Function.Arguments)

	result := messages[1]
	assert.Equal(t, openai.ChatMessageRoleTool, result.Role)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.Equal(t, "已发送", result.Content)
}

func TestConvertChainImages(t *testing.T) {
	chain := llmtypes.NewChain(0)
	chain.Add(llmtypes.NewPayload(llmtypes.RoleUser,
		llmtypes.Text("看看这张图"),
		llmtypes.Image("iVBORw0KGgoAAAANSUhEUg=="),
	))

	messages := ConvertChain(chain)
	require.Len(t, messages, 1)

	message := messages[0]
	assert.Empty(t, message.Content)
	require.Len(t, message.MultiContent, 2)

	assert.Equal(t, openai.ChatMessagePartTypeText, message.MultiContent[0].Type)
	assert.Equal(t, "看看这张图", message.MultiContent[0].Text)

	imagePart := message.MultiContent[1]
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, imagePart.Type)
	require.NotNil(t, imagePart.ImageURL)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg==", imagePart.ImageURL.URL)
}

func TestConvertTools(t *testing.T) {
	schemas := []llmtypes.ToolSchema{
		{
			Name:        "kfc_reply",
			Description: "发送一条消息",
			Params: []llmtypes.Param{
				{Name: "content", Type: "string", Description: "消息内容", Required: true},
			},
		},
	}

	tools := ConvertTools(schemas)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].Function)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "kfc_reply", tools[0].Function.Name)

	params, ok := tools[0].Function.Parameters.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"content"}, params["required"])
}

func TestImageDataURL(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "data url passes through",
			data: "data:image/png;base64,abc",
			want: "data:image/png;base64,abc",
		},
		{
			name: "host prefix stripped",
			data: "base64|/9j/4AAQSkZJRg==",
			want: "data:image/jpeg;base64,/9j/4AAQSkZJRg==",
		},
		{
			name: "bare png",
			data: "iVBORw0KGgo=",
			want: "data:image/png;base64,iVBORw0KGgo=",
		},
		{
			name: "unknown defaults to jpeg",
			data: "QUJDRA==",
			want: "data:image/jpeg;base64,QUJDRA==",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imageDataURL(tt.data))
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "api error 500", err: &openai.APIError{HTTPStatusCode: 500}, want: true},
		{name: "api error 429", err: &openai.APIError{HTTPStatusCode: 429}, want: true},
		{name: "api error 399", err: &openai.APIError{HTTPStatusCode: 399}, want: false},
		{name: "request error", err: &openai.RequestError{Err: errors.New("conn reset")}, want: true},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}
