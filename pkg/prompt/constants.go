package prompt

import "embed"

//go:embed templates/*
var TemplateFS embed.FS

const (
	// SystemTemplate is the decision-turn system prompt.
	SystemTemplate = "templates/system.tmpl"
	// TimeoutTemplate renders the wait-timeout decision payload.
	TimeoutTemplate = "templates/timeout.tmpl"
	// ProactiveTemplate renders the self-initiated conversation context.
	ProactiveTemplate = "templates/proactive.tmpl"
	// ContinuousThinkingTemplate renders the mid-wait monologue context.
	ContinuousThinkingTemplate = "templates/continuous_thinking.tmpl"
)
