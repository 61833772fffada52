// Package instrumentation provides OpenTelemetry metrics and tracing for the
// receptionist service.
//
// # Metrics
//
//   - http_requests_total, http_request_duration_seconds: webhook and MCP traffic
//     by method, bounded path and status
//   - tool_invocations_total, tool_duration_seconds: voice agent tool calls by
//     canonical tool and outcome
//   - calendar_operations_total, calendar_operation_duration_seconds: calendar
//     gateway calls by operation and outcome
//   - hold_transitions_total: holds entering each state
//   - normalization_failures_total: webhook payloads rejected before dispatch
//
// With the Prometheus exporter the metrics are served by MetricsHandler on the
// dedicated metrics port.
//
// # Tracing
//
// Spans are created for tool invocations (tool.<name>) and calendar calls
// (calendar.<operation>). Tracing is off unless TRACING_EXPORTER is set.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: receptionist)
package instrumentation
