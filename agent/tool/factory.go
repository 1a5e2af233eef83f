package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	composiox "github.com/Jhons14/LocalAI/pkg/composio"
)

// Factory builds per-session tool providers. The builtin toolkit runs
// in-process without credentials; remote toolkits go through the tool
// platform, where the session credential wins over the process-level key.
type Factory struct {
	cfg composiox.Config
}

func NewFactory(cfg composiox.Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) New(ctx context.Context, sc contractx.SessionConfig, credential string) (contractx.ToolProvider, error) {
	builtin := NewBuiltinProvider()

	remoteNeeded := false
	for _, tk := range sc.Toolkits {
		if !IsBuiltinToolkit(tk) {
			remoteNeeded = true
			break
		}
	}
	if !remoteNeeded {
		return builtin, nil
	}

	cfg := f.cfg
	if key := strings.TrimSpace(credential); key != "" {
		cfg.APIKey = key
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: tool platform api key is not configured", contractx.ErrCredentialMissing)
	}

	client, err := composiox.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("build tool platform client: %w", err)
	}
	remote, err := NewProvider(client, sc.UserID)
	if err != nil {
		return nil, err
	}
	return &combinedProvider{builtin: builtin, remote: remote}, nil
}

// combinedProvider serves the builtin toolkit locally and everything else
// through the remote platform. Dispatch is by tool name ownership: builtin
// tools are a fixed, known set.
type combinedProvider struct {
	builtin *BuiltinProvider
	remote  *Provider
}

var _ contractx.ToolProvider = (*combinedProvider)(nil)

func (c *combinedProvider) Tools(ctx context.Context, toolkits []string) ([]*schema.ToolInfo, error) {
	var local, remote []string
	for _, tk := range toolkits {
		if IsBuiltinToolkit(tk) {
			local = append(local, tk)
		} else {
			remote = append(remote, tk)
		}
	}

	infos, err := c.builtin.Tools(ctx, local)
	if err != nil {
		return nil, err
	}
	remoteInfos, err := c.remote.Tools(ctx, remote)
	if err != nil {
		return nil, err
	}
	return append(infos, remoteInfos...), nil
}

func (c *combinedProvider) RequiresAuth(tool string) bool {
	if c.builtin.Handles(tool) {
		return false
	}
	return c.remote.RequiresAuth(tool)
}

func (c *combinedProvider) Authorize(ctx context.Context, tool, userID string) (contractx.AuthHandle, error) {
	if c.builtin.Handles(tool) {
		return c.builtin.Authorize(ctx, tool, userID)
	}
	return c.remote.Authorize(ctx, tool, userID)
}

func (c *combinedProvider) WaitForAuth(ctx context.Context, handle contractx.AuthHandle) error {
	return c.remote.WaitForAuth(ctx, handle)
}

func (c *combinedProvider) Execute(ctx context.Context, call schema.ToolCall) (string, error) {
	if c.builtin.Handles(call.Function.Name) {
		return c.builtin.Execute(ctx, call)
	}
	return c.remote.Execute(ctx, call)
}
