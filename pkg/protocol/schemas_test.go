package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSchemas(t *testing.T) {
	schemas := BuiltinSchemas()
	require.Len(t, schemas, 2)

	reply := schemas[0]
	assert.Equal(t, ActionReply, reply.Name)
	assert.Contains(t, reply.Description, "发送一段文本消息给对方")
	require.Len(t, reply.Params, 5)

	assert.Equal(t, "content", reply.Params[0].Name)
	assert.Equal(t, "string", reply.Params[0].Type)
	assert.True(t, reply.Params[0].Required)

	byName := make(map[string]bool, len(reply.Params))
	for _, p := range reply.Params {
		byName[p.Name] = true
	}
	for _, want := range []string{"content", "thought", "expected_reaction", "max_wait_seconds", "mood"} {
		assert.True(t, byName[want], "missing param %s", want)
	}

	for _, p := range reply.Params[1:] {
		assert.False(t, p.Required, "param %s should be optional", p.Name)
		if p.Name == "max_wait_seconds" {
			assert.Equal(t, "number", p.Type)
		}
	}

	doNothing := schemas[1]
	assert.Equal(t, ActionDoNothing, doNothing.Name)
	assert.Contains(t, doNothing.Description, "决定不做任何回复")
	require.Len(t, doNothing.Params, 4)
	for _, p := range doNothing.Params {
		assert.False(t, p.Required)
	}
}

func TestBuiltinSchemasReturnsCopy(t *testing.T) {
	first := BuiltinSchemas()
	first[0].Name = "mutated"

	second := BuiltinSchemas()
	assert.Equal(t, ActionReply, second[0].Name)
}
