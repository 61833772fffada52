// Package server provides the HTTP surface of the receptionist: the voice
// agent webhook, the MCP streamable-HTTP endpoint, health probes and the
// Prometheus metrics server.
//
// # Routes
//
//   - POST /retell/tools: normalizes a tool call payload and dispatches it
//   - /mcp: the canonical tools over MCP streamable HTTP
//   - GET /health: constant liveness, {"status":"ok"}
//   - GET /healthz, /readyz, /healthz/detailed: Kubernetes probes
//
// The metrics server listens on its own address so it can stay off the
// public listener.
//
// # Authentication
//
// When a webhook token is configured, every request to /retell/tools and
// /mcp must carry it in the x-retell-webhook-token header. Tokens are
// compared in constant time.
package server
