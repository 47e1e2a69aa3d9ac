package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/assistant"
	"github.com/teemow/ash/internal/instrumentation"
)

// Options are the components shared by the HTTP API and the MCP tools.
type Options struct {
	Orchestrator *agent.Orchestrator
	Assistant    *assistant.Service
	AgentConfig  agent.Config

	// Account is the calendar account used when a caller names none.
	Account string

	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
	Logger      *slog.Logger
}

// ServerContext holds the long-lived components of a running ASH process.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	orchestrator *agent.Orchestrator
	assistant    *assistant.Service
	agentConfig  agent.Config
	account      string
	metrics      *instrumentation.Metrics
	auditLogger  *instrumentation.AuditLogger
	logger       *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context. The orchestrator is required.
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if opts.Account == "" {
		opts.Account = assistant.DefaultAccount
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:          shutdownCtx,
		cancel:       cancel,
		orchestrator: opts.Orchestrator,
		assistant:    opts.Assistant,
		agentConfig:  opts.AgentConfig,
		account:      opts.Account,
		metrics:      opts.Metrics,
		auditLogger:  opts.AuditLogger,
		logger:       opts.Logger,
	}, nil
}

// Context returns the server context. It is cancelled on Shutdown.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Orchestrator returns the agent that executes tools.
func (sc *ServerContext) Orchestrator() *agent.Orchestrator {
	return sc.orchestrator
}

// Assistant returns the chat service, or nil when persistence is disabled.
func (sc *ServerContext) Assistant() *assistant.Service {
	return sc.assistant
}

// AgentConfig returns the agent configuration used for every turn.
func (sc *ServerContext) AgentConfig() agent.Config {
	return sc.agentConfig
}

// Account returns the default calendar account.
func (sc *ServerContext) Account() string {
	return sc.account
}

// Metrics returns the metrics recorder. It may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger. It may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.auditLogger
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
