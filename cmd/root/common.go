package root

import (
	"os"
	"time"

	"github.com/nvimtools/copilot-agent/pkg/config"
	"github.com/nvimtools/copilot-agent/pkg/copilot"
	"github.com/nvimtools/copilot-agent/pkg/httpclient"
	"github.com/nvimtools/copilot-agent/pkg/runtime"
	"github.com/nvimtools/copilot-agent/pkg/session"
	"github.com/nvimtools/copilot-agent/pkg/tools"
	"github.com/nvimtools/copilot-agent/pkg/tools/builtin"
)

func (f *rootFlags) loadConfig() (*config.Config, error) {
	return config.Load(f.configPath)
}

func newClient(cfg *config.Config) *copilot.Client {
	var tokenOpts []copilot.TokenOpt
	if cfg.Endpoint.Token != "" {
		tokenOpts = append(tokenOpts, copilot.WithExchangeURL(cfg.Endpoint.Token))
	}
	tokens := copilot.NewExchangingTokenSource(config.GitHubToken(), tokenOpts...)

	opts := []copilot.ClientOpt{copilot.WithHTTPClient(httpclient.New())}
	if cfg.Endpoint.Completions != "" {
		opts = append(opts, copilot.WithCompletionsURL(cfg.Endpoint.Completions))
	}
	if cfg.Endpoint.Models != "" {
		opts = append(opts, copilot.WithModelsURL(cfg.Endpoint.Models))
	}

	return copilot.NewClient(cfg.Model, tokens, opts...)
}

func newRegistry() *tools.Registry {
	workdir, err := os.Getwd()
	if err != nil {
		workdir = "."
	}
	return tools.NewRegistry(
		builtin.NewCalculatorTool(),
		builtin.NewClockTool(time.Now),
		builtin.NewWorkspaceTool(workdir),
	)
}

func newSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Session.Database == "" {
		return session.NewInMemoryStore(), nil
	}
	return session.NewSQLiteStore(cfg.Session.Database)
}

func newRuntime(cfg *config.Config) (*runtime.Runtime, session.Store, error) {
	store, err := newSessionStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	rt := runtime.New(newClient(cfg), newRegistry(), cfg.Agent, runtime.WithSessionStore(store))
	return rt, store, nil
}
