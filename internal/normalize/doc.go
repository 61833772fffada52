// Package normalize turns inbound voice-platform payloads into canonical
// tool calls.
//
// Three shapes are accepted:
//
//   - wrapped: {"tool_name": ..., "arguments": {...}} or {"name": ..., "args": {...}}
//   - double-wrapped: a wrapped pair inside the arguments of another, or under
//     a wrapper key such as "call"; the innermost pair wins
//   - args-only: the arguments object alone, recognized by its fields
//
// Tool names are resolved through an AliasTable by exact, case-sensitive
// match.
package normalize
