// Package tools runs canonical tool calls with tracing, metrics and audit
// logging, and exposes the six tools over MCP.
//
// The webhook handler and the MCP server share one Invoker so both
// transports produce the same telemetry:
//
//	inv := tools.NewInvoker(dispatcher, provider.Metrics(), audit)
//	tools.Register(mcpSrv, inv)
package tools
