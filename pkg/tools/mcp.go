package tools

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
	"github.com/kokoroflow/kokoroflow/pkg/version"
)

var _ Registry = &MCPRegistry{}

// mcpToolPrefix namespaces discovered tools so they can never collide
// with the builtin control actions.
const mcpToolPrefix = "mcp_"

// mcpTool points an exposed tool name back at the server that owns it.
type mcpTool struct {
	client *client.Client
	// name is the server-side tool name, without the exposure prefix.
	name string
}

// MCPRegistry exposes tools discovered from MCP servers as engine
// actions. Connect must complete before Schemas and Dispatch are used.
type MCPRegistry struct {
	clients   map[string]*client.Client
	whiteList map[string][]string

	mu      sync.RWMutex
	schemas []llmtypes.ToolSchema
	tools   map[string]mcpTool
}

// NewMCPRegistry builds clients for every configured server without
// connecting yet.
func NewMCPRegistry(cfg config.MCPConfig) (*MCPRegistry, error) {
	r := &MCPRegistry{
		clients:   make(map[string]*client.Client),
		whiteList: make(map[string][]string),
		tools:     make(map[string]mcpTool),
	}
	for name, server := range cfg.Servers {
		c, err := newMCPClient(server)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to configure mcp server %s", name)
		}
		r.clients[name] = c
		r.whiteList[name] = server.ToolWhiteList
	}
	return r, nil
}

// newMCPClient builds a transport from one server entry. A missing
// type is inferred from which endpoint field is set.
func newMCPClient(cfg config.MCPServerConfig) (*client.Client, error) {
	serverType := cfg.Type
	if serverType == "" {
		switch {
		case cfg.BaseURL != "":
			serverType = "sse"
		case cfg.Command != "":
			serverType = "stdio"
		default:
			return nil, errors.New("type is required")
		}
	}

	switch serverType {
	case "stdio":
		if cfg.Command == "" {
			return nil, errors.New("command is required for stdio server")
		}
		env := make([]string, 0, len(cfg.Envs))
		for k, v := range cfg.Envs {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewClient(transport.NewStdio(cfg.Command, env, cfg.Args...)), nil
	case "sse":
		if cfg.BaseURL == "" {
			return nil, errors.New("base_url is required for sse server")
		}
		tp, err := transport.NewSSE(cfg.BaseURL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		return client.NewClient(tp), nil
	}
	return nil, errors.Errorf("invalid server type %q", serverType)
}

// Connect starts every server, runs the MCP handshake, and discovers
// the whitelisted tools.
func (r *MCPRegistry) Connect(ctx context.Context) error {
	schemas := []llmtypes.ToolSchema{}
	tools := make(map[string]mcpTool)

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := r.clients[name]
		log := logger.G(ctx).WithField("server", name)
		log.Info("initializing mcp client")

		if err := c.Start(ctx); err != nil {
			return errors.Wrapf(err, "failed to start mcp server %s", name)
		}

		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{
			Name:    "kokoroflow",
			Version: version.Version,
		}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		if _, err := c.Initialize(ctx, initReq); err != nil {
			return errors.Wrapf(err, "failed to initialize mcp server %s", name)
		}

		listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return errors.Wrapf(err, "failed to list tools on mcp server %s", name)
		}

		count := 0
		for _, tool := range listed.Tools {
			if !toolAllowed(tool.GetName(), r.whiteList[name]) {
				continue
			}
			exposed := mcpToolPrefix + tool.GetName()
			if _, taken := tools[exposed]; taken {
				log.WithField("tool", exposed).Warn("tool already provided by another server, skipping")
				continue
			}
			tools[exposed] = mcpTool{client: c, name: tool.GetName()}
			schemas = append(schemas, toolSchema(tool))
			count++
		}
		log.WithField("tools", count).Info("mcp client ready")
	}

	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })

	r.mu.Lock()
	r.schemas = schemas
	r.tools = tools
	r.mu.Unlock()
	return nil
}

// Schemas implements Registry.
func (r *MCPRegistry) Schemas(ctx context.Context) []llmtypes.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmtypes.ToolSchema, len(r.schemas))
	copy(out, r.schemas)
	return out
}

// Dispatch implements Registry. The trigger is unused: MCP tools get
// their arguments from the call alone.
func (r *MCPRegistry) Dispatch(ctx context.Context, call llmtypes.ToolCall, trigger *chat.Message) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return "", errors.Errorf("unknown tool %s", call.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool.name
	req.Params.Arguments = call.Args

	result, err := tool.client.CallTool(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool %s", call.Name)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			sb.WriteString(text.Text)
			continue
		}
		fmt.Fprintf(&sb, "%v", content)
	}
	if result.IsError {
		return "", errors.Errorf("tool %s failed: %s", call.Name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down every server connection.
func (r *MCPRegistry) Close() error {
	var errs *multierror.Error
	for name, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to close mcp server %s", name))
		}
	}
	return errs.ErrorOrNil()
}

func toolAllowed(name string, whiteList []string) bool {
	return len(whiteList) == 0 || slices.Contains(whiteList, name)
}

// toolSchema flattens an MCP tool declaration into the provider-neutral
// schema offered to the model. Properties the schema cannot express
// (nested objects, enums) degrade to their base type.
func toolSchema(tool mcp.Tool) llmtypes.ToolSchema {
	required := tool.InputSchema.Required

	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]llmtypes.Param, 0, len(names))
	for _, name := range names {
		param := llmtypes.Param{Name: name, Type: "string", Required: slices.Contains(required, name)}
		if prop, ok := tool.InputSchema.Properties[name].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok && t != "" {
				param.Type = t
			}
			if d, ok := prop["description"].(string); ok {
				param.Description = d
			}
		}
		params = append(params, param)
	}

	return llmtypes.ToolSchema{
		Name:        mcpToolPrefix + tool.GetName(),
		Description: tool.Description,
		Params:      params,
	}
}
