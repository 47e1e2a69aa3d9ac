package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/teemow/ash/internal/instrumentation"
	"github.com/teemow/ash/internal/llm"
	"github.com/teemow/ash/internal/logging"
)

// Turn is one user utterance together with its conversational context.
type Turn struct {
	UserID    string
	Account   string
	SessionID string
	Text      string

	// PriorContext holds earlier messages of the session, oldest first.
	PriorContext []llm.Message

	// Now is the reference time used to resolve relative dates.
	Now time.Time
}

// Deps are the collaborators a turn may use. Only Model is mandatory; tools
// whose collaborator is nil fail with a ToolExecutionError.
type Deps struct {
	Model     llm.Provider
	Calendar  Calendar
	Mailer    Mailer
	Reminders Reminders
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for turn diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records turn, model and tool metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAuditLogger logs every tool call dispatched on behalf of the model.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(o *Orchestrator) { o.audit = a }
}

// WithProviderName sets the provider label used in model metrics.
func WithProviderName(name string) Option {
	return func(o *Orchestrator) { o.providerName = name }
}

// Orchestrator runs conversational turns against a model and the calendar
// collaborators. It holds no per-turn state and is safe for concurrent use.
type Orchestrator struct {
	model     llm.Provider
	calendar  Calendar
	mailer    Mailer
	reminders Reminders

	providerName string
	metrics      *instrumentation.Metrics
	audit        *instrumentation.AuditLogger
	logger       *slog.Logger

	handlers map[ToolName]toolHandler
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:        deps.Model,
		calendar:     deps.Calendar,
		mailer:       deps.Mailer,
		reminders:    deps.Reminders,
		providerName: "llm",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.handlers = o.dispatchTable()
	return o
}

// turnRun carries the mutable state of a single HandleUtterance call.
type turnRun struct {
	cfg   Config
	turn  Turn
	scope Scope
	state State

	messages []llm.Message
	calls    []llm.ToolCall
	results  []ToolResult
	reply    string
	status   string
}

// HandleUtterance runs one turn and always returns a reply.
func (o *Orchestrator) HandleUtterance(ctx context.Context, cfg Config, turn Turn) (out Outcome) {
	start := time.Now()
	if turn.Now.IsZero() {
		turn.Now = start
	}

	ctx, span := instrumentation.StartTurnSpan(ctx, instrumentation.NewSpanAttributeBuilder().
		WithUser(turn.UserID).
		WithSession(turn.SessionID).
		Build()...)
	defer span.End()

	logger := o.logger.With(logging.UserHash(turn.UserID), logging.Session(turn.SessionID))

	run := &turnRun{
		cfg:   cfg,
		turn:  turn,
		state: StateComposing,
		scope: Scope{
			UserID:                turn.UserID,
			Account:               turn.Account,
			SessionID:             turn.SessionID,
			Now:                   turn.Now,
			Location:              cfg.location(),
			DefaultMeetingMinutes: cfg.DefaultMeetingMinutes,
		},
		status: instrumentation.StatusSuccess,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())), logging.State(string(run.state)))
			instrumentation.SetSpanError(span, fmt.Errorf("panic: %v", r))
			run.status = instrumentation.StatusError
			out = Outcome{Reply: FallbackReply, MutationsPerformed: run.results}
		}
		if out.MutationsPerformed == nil {
			out.MutationsPerformed = []ToolResult{}
		}
		o.metrics.RecordTurn(ctx, run.status, len(run.results) > 0, time.Since(start))
		logger.Info("turn finished",
			logging.Status(run.status),
			slog.Int("tool_calls", len(run.results)),
			slog.Duration(logging.KeyDuration, time.Since(start)))
	}()

	for !run.state.Terminal() {
		ev := o.step(ctx, run, logger)
		next, err := Next(run.state, ev)
		if err != nil {
			logger.Error("turn state machine rejected event", logging.Err(err))
			run.reply = FallbackReply
			run.status = instrumentation.StatusError
			next = StateDone
		}
		logger.Debug("turn transition", logging.State(string(run.state)), slog.String("next", string(next)))
		run.state = next
	}

	if run.status == instrumentation.StatusSuccess {
		instrumentation.SetSpanSuccess(span)
	}
	return Outcome{Reply: run.reply, MutationsPerformed: run.results}
}

// step performs the work of the current state and reports what happened.
func (o *Orchestrator) step(ctx context.Context, run *turnRun, logger *slog.Logger) Event {
	switch run.state {
	case StateComposing:
		run.messages = composeMessages(run.cfg, run.turn)
		return Event{Kind: EventComposed}

	case StateAwaitingModel:
		completion, err := o.complete(ctx, instrumentation.PhaseInitial, run.messages, run.cfg.Tools)
		if err != nil {
			logger.Warn("model call failed", logging.Err(err))
			run.reply = FallbackReply
			run.status = instrumentation.StatusFallback
			return Event{Kind: EventFailed}
		}
		if !completion.HasToolCalls() {
			run.reply = replyText(completion.Text, EmptyReply)
			return ModelReplied(false)
		}
		run.calls = completion.ToolCalls
		run.messages = append(run.messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		return ModelReplied(true)

	case StateDispatching:
		run.results = o.dispatch(ctx, run.scope, run.calls)
		for _, r := range run.results {
			run.messages = append(run.messages, llm.ToolMessage(r.CallID, r.ModelContent()))
		}
		return Event{Kind: EventDispatched}

	case StateFinalizing:
		completion, err := o.complete(ctx, instrumentation.PhaseFinalize, run.messages, nil)
		if err != nil {
			logger.Warn("finalizing model call failed, summarizing tool results", logging.Err(err))
			run.reply = summarizeResults(run.results, run.scope.location())
			run.status = instrumentation.StatusFallback
			return Event{Kind: EventFailed}
		}
		if completion.HasToolCalls() {
			logger.Debug("ignoring tool calls requested while finalizing", slog.Int("count", len(completion.ToolCalls)))
		}
		run.reply = replyText(completion.Text, summarizeResults(run.results, run.scope.location()))
		return Event{Kind: EventFinalized}
	}

	return Event{Kind: EventFailed}
}

// complete calls the model once and normalizes failures.
func (o *Orchestrator) complete(ctx context.Context, phase string, messages []llm.Message, tools []llm.ToolSchema) (*llm.Completion, error) {
	if o.model == nil {
		return nil, &ModelUnavailableError{Phase: phase, Err: errors.New("no model configured")}
	}
	start := time.Now()
	completion, err := o.model.Complete(ctx, messages, tools)
	if err == nil && completion == nil {
		err = errors.New("empty completion")
	}
	o.metrics.RecordModelCall(ctx, o.providerName, phase, instrumentation.StatusFor(err), time.Since(start))
	if err != nil {
		return nil, &ModelUnavailableError{Phase: phase, Err: err}
	}
	return completion, nil
}

// dispatch executes the calls sequentially, in order. A failing call never
// prevents the following ones from running.
func (o *Orchestrator) dispatch(ctx context.Context, scope Scope, calls []llm.ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		invocation := instrumentation.NewToolInvocation(call.Name).
			WithUser(scope.UserID).
			WithSession(scope.SessionID).
			WithSource(instrumentation.SourceAgent).
			WithSpanContext(ctx)

		result := o.ExecuteTool(ctx, scope, call)

		status := instrumentation.StatusSuccess
		if result.Success {
			invocation.CompleteSuccess()
		} else {
			status = instrumentation.StatusError
			invocation.CompleteWithError(errors.New(result.Error))
		}
		o.metrics.RecordToolInvocationWithUser(ctx, call.Name, status, scope.UserID, time.Since(start))
		o.audit.LogToolInvocation(invocation)

		results = append(results, result)
	}
	return results
}

// ExecuteTool runs a single tool call through the dispatch table. It is also
// the entry point for tools invoked outside a turn.
func (o *Orchestrator) ExecuteTool(ctx context.Context, scope Scope, call llm.ToolCall) (result ToolResult) {
	name := ToolName(call.Name)
	handler, ok := o.handlers[name]
	if !ok {
		return failedResult(call.ID, name, &UnknownToolError{Name: call.Name})
	}

	ctx, span := instrumentation.StartToolSpan(ctx, call.Name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := &ToolExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", r)}
			o.logger.Error("tool panicked", logging.Tool(call.Name), slog.Any("panic", r))
			instrumentation.SetSpanError(span, err)
			result = failedResult(call.ID, name, err)
		}
	}()

	value, err := handler(ctx, scope, call.Arguments)
	if err != nil {
		execErr := &ToolExecutionError{Tool: name, Err: err}
		instrumentation.SetSpanError(span, execErr)
		o.logger.Debug("tool call failed", logging.Tool(call.Name), logging.Err(err))
		return failedResult(call.ID, name, execErr)
	}
	instrumentation.SetSpanSuccess(span)
	return ToolResult{CallID: call.ID, Tool: name, Success: true, Result: value}
}

// composeMessages builds the persona, the truncated prior context and the
// new utterance.
func composeMessages(cfg Config, turn Turn) []llm.Message {
	prior := turn.PriorContext
	if limit := cfg.maxPriorTurns(); len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	// A tool answer without its assistant call is rejected by providers.
	for len(prior) > 0 && prior[0].Role == llm.RoleTool {
		prior = prior[1:]
	}

	messages := make([]llm.Message, 0, len(prior)+2)
	messages = append(messages, llm.SystemMessage(cfg.systemPrompt(turn.Now)))
	messages = append(messages, prior...)
	messages = append(messages, llm.UserMessage(turn.Text))
	return messages
}

func replyText(text, fallback string) string {
	if t := strings.TrimSpace(text); t != "" {
		return t
	}
	return fallback
}

// summarizeResults phrases tool results for the user when the model cannot.
func summarizeResults(results []ToolResult, loc *time.Location) string {
	if len(results) == 0 {
		return FallbackReply
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		if !r.Success {
			parts = append(parts, fmt.Sprintf("%s did not succeed (%s)", r.Tool, r.Error))
			continue
		}
		switch v := r.Result.(type) {
		case EventCreated:
			parts = append(parts, fmt.Sprintf("created %q on %s", v.Summary, v.Start.In(loc).Format("Mon Jan 2 15:04")))
		case EventUpdated:
			parts = append(parts, fmt.Sprintf("updated event %s", v.EventID))
		case EventDeleted:
			parts = append(parts, fmt.Sprintf("deleted event %s", v.EventID))
		case InviteSent:
			parts = append(parts, fmt.Sprintf("sent an invitation to %s", strings.Join(v.Recipients, ", ")))
		case ReminderScheduled:
			parts = append(parts, fmt.Sprintf("set a reminder for %s", v.RemindAt.In(loc).Format("Mon Jan 2 15:04")))
		case []Slot:
			parts = append(parts, fmt.Sprintf("found %d free slot(s)", len(v)))
		case []CalendarEvent:
			parts = append(parts, fmt.Sprintf("found %d upcoming event(s)", len(v)))
		default:
			parts = append(parts, fmt.Sprintf("ran %s", r.Tool))
		}
	}
	return "Here is what I did: " + strings.Join(parts, "; ") + "."
}
