package engine

import (
	"fmt"
	"strings"

	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// logPanelBudget caps each payload panel in runes so debug dumps of
// long conversations stay readable.
const logPanelBudget = 10000

// FormatChainForLog renders the payload chain as role-labeled panels
// for the show_prompt debug output, with a trailing panel listing the
// tools offered on the request.
func FormatChainForLog(chain *llmtypes.Chain, schemas []llmtypes.ToolSchema) string {
	payloads := chain.Payloads()
	if len(payloads) == 0 {
		return "（无 payload）"
	}

	panels := make([]string, 0, len(payloads)+1)
	for _, p := range payloads {
		panels = append(panels, fmt.Sprintf("── %s ──\n%s", strings.ToUpper(string(p.Role)), renderPayload(p)))
	}
	if len(schemas) > 0 {
		names := make([]string, 0, len(schemas))
		for _, s := range schemas {
			names = append(names, s.Name)
		}
		panels = append(panels, fmt.Sprintf("── TOOLS ──\n[%d 个工具: %s]", len(schemas), strings.Join(names, ", ")))
	}
	return strings.Join(panels, "\n\n")
}

// renderPayload flattens one payload into display text. Image data is
// collapsed into a short marker so base64 blobs never hit the log.
func renderPayload(p llmtypes.Payload) string {
	var lines []string
	for _, part := range p.Parts {
		switch part.Type {
		case llmtypes.PartText:
			if part.Text != "" {
				lines = append(lines, part.Text)
			}
		case llmtypes.PartImage:
			lines = append(lines, fmt.Sprintf("[图片: %.40s...]", part.Data))
		case llmtypes.PartToolResult:
			lines = append(lines, fmt.Sprintf("[工具结果 %s] %s", part.Name, part.Value))
		}
	}
	if len(p.Calls) > 0 {
		names := make([]string, 0, len(p.Calls))
		for _, call := range p.Calls {
			names = append(names, call.Name)
		}
		lines = append(lines, fmt.Sprintf("[调用工具: %s]", strings.Join(names, ", ")))
	}

	body := strings.Join(lines, "\n")
	if body == "" {
		return "（空）"
	}
	if runes := []rune(body); len(runes) > logPanelBudget {
		body = string(runes[:logPanelBudget]) + "\n[...截断...]"
	}
	return body
}
