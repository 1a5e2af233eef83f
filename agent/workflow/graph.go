package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	nodex "github.com/Jhons14/LocalAI/agent/nodes"
	promptx "github.com/Jhons14/LocalAI/agent/prompt"
)

// Deps are the capability handles bound into a compiled turn graph.
type Deps struct {
	Model   einomodel.ToolCallingChatModel
	Tools   contractx.ToolProvider // nil when the toolkit set is empty
	Memory  contractx.MemoryStore  // nil disables memory regardless of config
	Prompts promptx.Set
	Policy  nodex.Policy

	AuthWaitTimeout time.Duration
}

// Engine is one compiled turn state machine for a session configuration.
// It is immutable once built; reconfiguration compiles a fresh Engine and
// swaps the reference, so an in-flight turn always runs against a consistent
// snapshot.
type Engine struct {
	cfg       contractx.SessionConfig
	toolInfos []*schema.ToolInfo
	runner    compose.Runnable[*nodex.TurnState, *nodex.TurnState]
}

// New resolves the tool binding for the configured toolkit set, binds it to
// the model, and compiles the turn graph.
func New(ctx context.Context, cfg contractx.SessionConfig, deps Deps) (*Engine, error) {
	if deps.Model == nil {
		return nil, errors.New("chat model is required")
	}

	var toolInfos []*schema.ToolInfo
	if len(cfg.Toolkits) > 0 {
		if deps.Tools == nil {
			return nil, errors.New("tool provider is required for a non-empty toolkit set")
		}
		infos, err := deps.Tools.Tools(ctx, cfg.Toolkits)
		if err != nil {
			return nil, fmt.Errorf("resolve tools for toolkits %v: %w", cfg.Toolkits, err)
		}
		toolInfos = infos
	}

	chatModel := einomodel.BaseChatModel(deps.Model)
	if len(toolInfos) > 0 {
		bound, err := deps.Model.WithTools(toolInfos)
		if err != nil {
			return nil, fmt.Errorf("bind %d tools to model: %w", len(toolInfos), err)
		}
		chatModel = bound
	}

	e := &Engine{cfg: cfg, toolInfos: toolInfos}
	runner, err := e.compileTurnGraph(ctx, chatModel, deps)
	if err != nil {
		return nil, err
	}
	e.runner = runner
	return e, nil
}

// Config returns the configuration snapshot the engine was built from.
func (e *Engine) Config() contractx.SessionConfig {
	return e.cfg
}

// Tools returns the tool descriptions bound into this engine.
func (e *Engine) Tools() []*schema.ToolInfo {
	return e.toolInfos
}

// RunTurn executes one turn over the supplied history, pushing incremental
// text to emit, and returns the extended history. Authorization failures and
// cancellations surface as errors; model and tool failures are absorbed into
// the history as error-bearing messages.
func (e *Engine) RunTurn(ctx context.Context, history []*schema.Message, emit func(string)) ([]*schema.Message, error) {
	out, err := e.runner.Invoke(ctx, &nodex.TurnState{
		Config:  e.cfg,
		History: history,
		Emit:    emit,
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("%w: turn graph returned nil state", contractx.ErrValidation)
	}
	return out.History, nil
}

const (
	nodeAgent        = "agent"
	nodeExecuteTools = "execute_tools"
	nodeAuthorize    = "authorize"
	nodeFallback     = "fallback"
)

// compileTurnGraph builds the per-configuration state machine:
//
//	START -> agent -> (route) -> execute_tools -> agent   (loop)
//	                          -> authorize -> execute_tools
//	                          -> fallback -> END
//	                          -> END
//
// The routing ceiling is the semantic loop breaker; max run steps is a hard
// backstop for the cyclic graph.
func (e *Engine) compileTurnGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	deps Deps,
) (compose.Runnable[*nodex.TurnState, *nodex.TurnState], error) {
	graph := compose.NewGraph[*nodex.TurnState, *nodex.TurnState]()

	if err := graph.AddLambdaNode(nodeAgent,
		compose.InvokableLambda(func(ctx context.Context, st *nodex.TurnState) (*nodex.TurnState, error) {
			return nodex.RunAgent(ctx, st, chatModel, deps.Memory, e.toolInfos, deps.Prompts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeAgent, err)
	}

	if err := graph.AddLambdaNode(nodeExecuteTools,
		compose.InvokableLambda(func(ctx context.Context, st *nodex.TurnState) (*nodex.TurnState, error) {
			return nodex.ExecuteTools(ctx, st, deps.Tools)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeExecuteTools, err)
	}

	if err := graph.AddLambdaNode(nodeAuthorize,
		compose.InvokableLambda(func(ctx context.Context, st *nodex.TurnState) (*nodex.TurnState, error) {
			return nodex.Authorize(ctx, st, deps.Tools, deps.AuthWaitTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeAuthorize, err)
	}

	if err := graph.AddLambdaNode(nodeFallback,
		compose.InvokableLambda(func(ctx context.Context, st *nodex.TurnState) (*nodex.TurnState, error) {
			return nodex.Fallback(st, deps.Prompts)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFallback, err)
	}

	requiresAuth := func(string) bool { return false }
	if deps.Tools != nil {
		requiresAuth = deps.Tools.RequiresAuth
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, st *nodex.TurnState) (string, error) {
			if st == nil {
				return "", fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
			}
			st.Decision = nodex.Route(st.History, deps.Policy, requiresAuth)
			switch st.Decision {
			case contractx.RouteExecuteTools:
				return nodeExecuteTools, nil
			case contractx.RouteAuthorize:
				return nodeAuthorize, nil
			case contractx.RouteFallback:
				return nodeFallback, nil
			default:
				return compose.END, nil
			}
		},
		map[string]bool{
			nodeExecuteTools: true,
			nodeAuthorize:    true,
			nodeFallback:     true,
			compose.END:      true,
		},
	)
	if err := graph.AddBranch(nodeAgent, branch); err != nil {
		return nil, fmt.Errorf("add routing branch: %w", err)
	}

	edges := [][2]string{
		{compose.START, nodeAgent},
		{nodeAuthorize, nodeExecuteTools},
		{nodeExecuteTools, nodeAgent},
		{nodeFallback, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx,
		compose.WithGraphName("agent.turn"),
		compose.WithMaxRunSteps(maxRunSteps(deps.Policy)),
	)
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}

// maxRunSteps bounds the pregel iteration count well above anything the
// routing ceiling permits, so it only trips if routing itself misbehaves.
func maxRunSteps(policy nodex.Policy) int {
	ceiling := policy.ToolCallCeiling
	if ceiling <= 0 {
		ceiling = 6
	}
	return (ceiling + 2) * 4
}
