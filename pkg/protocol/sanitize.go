package protocol

import (
	"regexp"
	"strings"
)

// metadataPatterns are the keyword groups a leaked planning field starts
// with. A reply is truncated only when two or more distinct groups
// appear, which keeps ordinary sentences that merely mention one of the
// words intact.
var metadataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:想法|内心想法|思考|thought|thinking)\s*[:：]`),
	regexp.MustCompile(`(?i)(?:预计反应|预期反应|expected_reaction)\s*[:：]`),
	regexp.MustCompile(`(?i)(?:最大等待秒数|max_wait_seconds)\s*[:：]`),
	regexp.MustCompile(`(?i)(?:心情|情绪|mood)\s*[:：]`),
}

// SanitizeReplyContent strips leaked planning metadata from an outgoing
// reply. It returns the cleaned text and the number of keyword groups
// found; content matching fewer than two groups is returned unchanged.
func SanitizeReplyContent(content string) (string, int) {
	if content == "" {
		return content, 0
	}

	earliest := -1
	hits := 0
	for _, p := range metadataPatterns {
		loc := p.FindStringIndex(content)
		if loc == nil {
			continue
		}
		hits++
		if earliest < 0 || loc[0] < earliest {
			earliest = loc[0]
		}
	}
	if hits < 2 {
		return content, hits
	}
	return strings.TrimSpace(content[:earliest]), hits
}

// NormalizeCallName keeps the last segment of a tool call name. Some
// hosts prefix call names with a component tag like "action:".
func NormalizeCallName(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}
