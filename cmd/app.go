package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teemow/ash/internal/agent"
	"github.com/teemow/ash/internal/assistant"
	"github.com/teemow/ash/internal/caldav"
	"github.com/teemow/ash/internal/calendar"
	"github.com/teemow/ash/internal/config"
	"github.com/teemow/ash/internal/gmail"
	"github.com/teemow/ash/internal/google"
	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/llm/openai"
	"github.com/teemow/ash/internal/logging"
	"github.com/teemow/ash/internal/server"
	"github.com/teemow/ash/internal/store"
)

// app holds the components shared by serve, chat and mcp.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *instrumentation.Provider

	store         *store.SQLiteStore
	tokens        *google.FileTokenProvider
	clients       *google.ClientCache
	mailer        agent.Mailer
	orchestrator  *agent.Orchestrator
	assistant     *assistant.Service
	serverContext *server.ServerContext
}

// loadConfig reads the environment and sets up logging. Logs go to
// logOutput so that stdio MCP keeps stdout clean.
func loadConfig(logOutput io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, logOutput)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

type appOptions struct {
	// requireModel fails startup without an OpenAI key. Otherwise a missing
	// key only disables conversational turns.
	requireModel bool

	// serving keeps the Prometheus exporter. Only serve has a listener for it.
	serving bool
}

// newApp wires the store, the collaborators, the orchestrator and the
// assistant service.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	instrConfig := instrumentationConfig(cfg, opts.serving)
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, provider: provider}
	if err := a.init(ctx, instrConfig, opts.requireModel); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, instrConfig instrumentation.Config, requireModel bool) error {
	cfg, logger := a.cfg, a.logger
	metrics := a.provider.Metrics()

	var audit *instrumentation.AuditLogger
	if a.provider.Enabled() {
		audit = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}

	agentCfg, err := agentConfig(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = st

	tokens := google.NewFileTokenProvider(google.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		TokenDir:     cfg.Google.TokenDir,
	})
	clients := google.NewClientCache(ctx, tokens)
	a.tokens, a.clients = tokens, clients

	cal, err := newCalendar(cfg, clients, agentCfg.Location, metrics, logger)
	if err != nil {
		return err
	}
	if cfg.Calendar.Provider == config.ProviderGoogle || tokens.HasToken(cfg.Account) {
		a.mailer = gmail.NewClient(clients, "", metrics, logger)
	}
	if cfg.Calendar.Provider == config.ProviderGoogle && !tokens.HasToken(cfg.Account) {
		logger.Warn("no Google token found for account; calendar and mail calls will fail",
			"account", cfg.Account, "token_dir", cfg.Google.TokenDir)
	}

	deps := agent.Deps{Calendar: cal, Mailer: a.mailer, Reminders: st}

	var opts []assistant.Option
	if cfg.OpenAI.APIKey != "" {
		client, err := openai.NewClient(openai.Config{
			APIKey:             cfg.OpenAI.APIKey,
			BaseURL:            cfg.OpenAI.BaseURL,
			Model:              cfg.OpenAI.Model,
			TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		deps.Model = client
		opts = append(opts, assistant.WithTranscriber(client))
	} else if requireModel {
		return errors.New("OPENAI_API_KEY is required")
	} else {
		logger.Warn("OPENAI_API_KEY not set; conversational turns will use the fallback reply")
	}

	a.orchestrator = agent.New(deps,
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
		agent.WithAuditLogger(audit),
		agent.WithProviderName("openai"),
	)
	a.assistant = assistant.NewService(a.orchestrator, st, agentCfg,
		append(opts, assistant.WithLogger(logger))...)

	a.serverContext, err = server.NewServerContext(ctx, server.Options{
		Orchestrator: a.orchestrator,
		Assistant:    a.assistant,
		AgentConfig:  agentCfg,
		Account:      cfg.Account,
		Metrics:      metrics,
		AuditLogger:  audit,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	return nil
}

// instrumentationConfig reads the telemetry settings and labels them with
// this deployment. Stdout exporters write to stderr so stdio MCP and chat
// output stay clean.
func instrumentationConfig(cfg *config.Config, serving bool) instrumentation.Config {
	c := instrumentation.DefaultConfig()
	c.ServiceVersion = version
	c.Output = os.Stderr

	model := cfg.OpenAI.Model
	if model == "" {
		model = openai.DefaultModel
	}
	c.Deployment.CalendarProvider = cfg.Calendar.Provider
	c.Deployment.Model = model
	c.Deployment.Timezone = cfg.Timezone

	if !serving && (c.MetricsExporter == instrumentation.ExporterPrometheus || c.MetricsExporter == "") {
		c.MetricsExporter = instrumentation.ExporterNone
	}
	return c
}

func agentConfig(cfg *config.Config) (agent.Config, error) {
	loc, err := cfg.Location()
	if err != nil {
		return agent.Config{}, err
	}
	agentCfg := agent.DefaultConfig()
	agentCfg.Location = loc
	if cfg.PersonaFile != "" {
		if agentCfg, err = agent.LoadPersonaFile(agentCfg, cfg.PersonaFile); err != nil {
			return agent.Config{}, err
		}
	}
	return agentCfg, nil
}

func newCalendar(cfg *config.Config, clients *google.ClientCache, loc *time.Location, metrics *instrumentation.Metrics, logger *slog.Logger) (agent.Calendar, error) {
	switch cfg.Calendar.Provider {
	case config.ProviderCalDAV:
		client, err := caldav.NewClient(caldav.Config{
			Endpoint:     cfg.CalDAV.Endpoint,
			Username:     cfg.CalDAV.Username,
			Password:     cfg.CalDAV.Password,
			CalendarName: cfg.CalDAV.CalendarName,
			Metrics:      metrics,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
		}
		return client, nil
	default:
		// Google expects an IANA name; "Local" is left to the calendar default.
		tz := loc.String()
		if tz == "Local" {
			tz = ""
		}
		return calendar.NewClient(clients, calendar.Config{
			CalendarID: cfg.Calendar.CalendarID,
			TimeZone:   tz,
			Metrics:    metrics,
		}, logger), nil
	}
}

// close releases everything newApp opened, in reverse order.
func (a *app) close() {
	if a.serverContext != nil {
		if err := a.serverContext.Shutdown(); err != nil {
			a.logger.Warn("server context shutdown failed", logging.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("database close failed", logging.Err(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("instrumentation shutdown failed", logging.Err(err))
	}
}
