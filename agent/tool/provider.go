// Package tool adapts the Composio tool platform into the agent's tool
// capability boundary.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	composiox "github.com/Jhons14/LocalAI/pkg/composio"
)

// Provider implements contract.ToolProvider on a composio client. Tool
// metadata discovered through Tools feeds the RequiresAuth lookup and maps
// tool names back to their toolkit for the auth handshake.
type Provider struct {
	client *composiox.Client
	userID string

	mu   sync.RWMutex
	meta map[string]toolMeta // tool name -> discovery metadata
}

type toolMeta struct {
	toolkit      string
	requiresAuth bool
}

var _ contractx.ToolProvider = (*Provider)(nil)

// NewProvider binds a composio client to one user identity. Tool execution
// and auth handshakes are scoped to that user's connected accounts.
func NewProvider(client *composiox.Client, userID string) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: composio client is nil", contractx.ErrValidation)
	}
	return &Provider{
		client: client,
		userID: strings.TrimSpace(userID),
		meta:   make(map[string]toolMeta),
	}, nil
}

// Tools resolves the callable tools for the toolkit set, preserving toolkit
// order, and records per-tool auth metadata for later routing decisions.
func (p *Provider) Tools(ctx context.Context, toolkits []string) ([]*schema.ToolInfo, error) {
	var infos []*schema.ToolInfo
	for _, toolkit := range toolkits {
		remote, err := p.client.ListTools(ctx, toolkit)
		if err != nil {
			return nil, err
		}
		for _, t := range remote {
			name := strings.TrimSpace(t.Slug)
			if name == "" {
				continue
			}

			p.mu.Lock()
			p.meta[name] = toolMeta{toolkit: toolkit, requiresAuth: !t.NoAuth}
			p.mu.Unlock()

			infos = append(infos, &schema.ToolInfo{
				Name:        name,
				Desc:        strings.TrimSpace(t.Description),
				ParamsOneOf: paramsFromJSONSchema(t.InputParameters),
			})
		}
	}
	return infos, nil
}

func (p *Provider) RequiresAuth(tool string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta[tool].requiresAuth
}

func (p *Provider) Authorize(ctx context.Context, tool, userID string) (contractx.AuthHandle, error) {
	p.mu.RLock()
	meta, ok := p.meta[tool]
	p.mu.RUnlock()
	if !ok {
		return contractx.AuthHandle{}, fmt.Errorf("%w: unknown tool %q", contractx.ErrValidation, tool)
	}

	conn, err := p.client.InitiateConnection(ctx, meta.toolkit, userID)
	if err != nil {
		return contractx.AuthHandle{}, err
	}
	return contractx.AuthHandle{
		ID:          conn.ID,
		RedirectURL: conn.RedirectURL,
		Status:      authStatus(conn.Status),
	}, nil
}

func (p *Provider) WaitForAuth(ctx context.Context, handle contractx.AuthHandle) error {
	return p.client.WaitForConnection(ctx, handle.ID)
}

func (p *Provider) Execute(ctx context.Context, call schema.ToolCall) (string, error) {
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("%w: invalid arguments for tool %s: %v", contractx.ErrValidation, call.Function.Name, err)
		}
	}

	data, err := p.client.ExecuteTool(ctx, call.Function.Name, p.userID, args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func authStatus(status string) contractx.AuthStatus {
	switch status {
	case composiox.ConnectionStatusActive:
		return contractx.AuthStatusActive
	case composiox.ConnectionStatusFailed:
		return contractx.AuthStatusFailed
	default:
		return contractx.AuthStatusPending
	}
}

// paramsFromJSONSchema converts a JSON-schema object into eino parameter
// info. Nested objects are flattened to a string description; models receive
// enough structure to fill required arguments.
func paramsFromJSONSchema(jsonSchema map[string]any) *schema.ParamsOneOf {
	props, _ := jsonSchema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}

	required := map[string]bool{}
	if rawReq, ok := jsonSchema["required"].([]any); ok {
		for _, r := range rawReq {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make(map[string]*schema.ParameterInfo, len(props))
	for name, rawProp := range props {
		prop, _ := rawProp.(map[string]any)
		desc, _ := prop["description"].(string)
		typ, _ := prop["type"].(string)
		params[name] = &schema.ParameterInfo{
			Type:     dataType(typ),
			Desc:     desc,
			Required: required[name],
		}
	}
	return schema.NewParamsOneOfByParams(params)
}

func dataType(jsonType string) schema.DataType {
	switch jsonType {
	case "number":
		return schema.Number
	case "integer":
		return schema.Integer
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
