package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	historyx "github.com/Jhons14/LocalAI/agent/history"
	llmx "github.com/Jhons14/LocalAI/agent/llm"
	memoryx "github.com/Jhons14/LocalAI/agent/memory"
	nodex "github.com/Jhons14/LocalAI/agent/nodes"
	sessionx "github.com/Jhons14/LocalAI/agent/session"
	toolx "github.com/Jhons14/LocalAI/agent/tool"
	composiox "github.com/Jhons14/LocalAI/pkg/composio"
	configx "github.com/Jhons14/LocalAI/pkg/config"
	_ "github.com/Jhons14/LocalAI/pkg/logger/autoload"
	ollamax "github.com/Jhons14/LocalAI/pkg/ollama"
	serverx "github.com/Jhons14/LocalAI/server"
)

type AppConfig struct {
	DefaultProvider      string        `envconfig:"DEFAULT_PROVIDER" split_words:"true" default:"ollama"`
	DefaultModel         string        `envconfig:"DEFAULT_MODEL" split_words:"true" default:"qwen2.5:3b"`
	DefaultMemoryEnabled bool          `envconfig:"DEFAULT_MEMORY_ENABLED" split_words:"true" default:"true"`
	AuthWaitTimeout      time.Duration `envconfig:"AUTH_WAIT_TIMEOUT" split_words:"true" default:"2m"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("AGENT")
	policy := configx.MustNew[nodex.Policy]("AGENT")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	serverCfg := configx.MustNew[serverx.Config]("SERVER")

	deps := sessionx.Deps{
		Models:          llmx.NewFactory(*llmCfg),
		History:         buildHistoryStore(ctx),
		Memory:          buildMemoryStore(),
		Policy:          *policy,
		AuthWaitTimeout: appCfg.AuthWaitTimeout,
		Defaults: contractx.SessionConfig{
			Provider:      appCfg.DefaultProvider,
			Model:         appCfg.DefaultModel,
			MemoryEnabled: appCfg.DefaultMemoryEnabled,
		},
	}

	composioCfg := configx.MustNew[composiox.Config]("COMPOSIO")
	deps.ToolProviders = toolx.NewFactory(*composioCfg)

	registry, err := sessionx.NewRegistry(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("build session registry")
	}

	srv, err := serverx.New(*serverCfg, registry, buildOllamaClient())
	if err != nil {
		log.Fatal().Err(err).Msg("build http server")
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

// buildMemoryStore wires the Upstash-backed memory adapter when configured.
// Without it, sessions run with memory disabled.
func buildMemoryStore() contractx.MemoryStore {
	cfg, err := configx.New[memoryx.UpstashConfig]("MEMORY")
	if err != nil {
		log.Warn().Err(err).Msg("memory store not configured, memory disabled")
		return nil
	}
	store, err := memoryx.NewUpstashStore(*cfg)
	if err != nil {
		log.Warn().Err(err).Msg("memory store init failed, memory disabled")
		return nil
	}
	return store
}

// buildHistoryStore prefers Postgres when a DSN is configured and falls back
// to in-process history.
func buildHistoryStore(ctx context.Context) historyx.Store {
	cfg := configx.MustNew[historyx.PostgresConfig]("HISTORY")
	if cfg.DSN == "" {
		return historyx.NewMemoryStore()
	}

	store, err := historyx.NewPostgresStore(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build postgres history store")
	}
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("init postgres history store")
	}
	return store
}

func buildOllamaClient() *ollamax.Client {
	cfg := configx.MustNew[ollamax.Config]("OLLAMA")
	client, err := ollamax.NewClient(*cfg)
	if err != nil {
		log.Warn().Err(err).Msg("ollama client init failed, model listing disabled")
		return nil
	}
	return client
}
