package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeReplyContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		hits     int
	}{
		{
			name:     "two groups truncate at earliest",
			content:  "好的\n想法: 我其实很累\n心情: 疲倦",
			expected: "好的",
			hits:     2,
		},
		{
			name:     "single group unchanged",
			content:  "我的想法：今天吃火锅怎么样",
			expected: "我的想法：今天吃火锅怎么样",
			hits:     1,
		},
		{
			name:     "no keywords",
			content:  "今天天气不错",
			expected: "今天天气不错",
			hits:     0,
		},
		{
			name:     "english keywords case insensitive",
			content:  "ok\nThought: hidden plan\nMOOD: down",
			expected: "ok",
			hits:     2,
		},
		{
			name:     "full leak cleans to empty",
			content:  "想法: 好想睡觉\n心情: 困",
			expected: "",
			hits:     2,
		},
		{
			name:     "empty content",
			content:  "",
			expected: "",
			hits:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaned, hits := SanitizeReplyContent(tt.content)
			assert.Equal(t, tt.expected, cleaned)
			assert.Equal(t, tt.hits, hits)
		})
	}
}

func TestNormalizeCallName(t *testing.T) {
	assert.Equal(t, "kfc_reply", NormalizeCallName("action:kfc_reply"))
	assert.Equal(t, "kfc_reply", NormalizeCallName("kfc_reply"))
	assert.Equal(t, "c", NormalizeCallName("a:b:c"))
}
