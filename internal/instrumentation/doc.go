// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for ASH.
//
// # Metrics
//
// HTTP surface:
//   - http_requests_total, http_request_duration_seconds
//   - active_websockets
//
// Conversational turns:
//   - agent_turns_total, agent_turn_duration_seconds (status, dispatched)
//   - llm_calls_total, llm_call_duration_seconds (provider, phase, status)
//   - agent_tool_calls_total, agent_tool_duration_seconds (tool, status)
//
// Collaborators:
//   - calendar_operations_total, calendar_operation_duration_seconds (backend, operation, status)
//   - reminders_sent_total (status)
//
// # Tracing
//
// Spans are created for each turn (agent.turn), each model request
// (llm.<provider>), each dispatched tool (tool.<name>) and each collaborator
// call (<backend>.<operation>).
//
// # Configuration
//
// Instrumentation is configured from the environment:
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout, none (default: prometheus;
//     only "ash serve" exposes the Prometheus endpoint, other commands fall
//     back to none)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: ash)
//   - ASH_ENV: deployment.environment resource attribute
//
// The resource also carries ash.calendar.provider, ash.llm.model and
// ash.timezone from the application configuration.
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics := provider.Metrics()
//	metrics.RecordTurn(ctx, instrumentation.StatusSuccess, true, time.Since(start))
package instrumentation
