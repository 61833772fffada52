// Package cmd implements the command-line interface for receptionist.
//
// This package provides the following commands:
//   - serve: Start the webhook, MCP and metrics servers
//   - sweep: Expire lapsed holds once and release their calendar events
//   - auth: Authorize Google Calendar access with OAuth
//   - generate-docs: Generate markdown documentation for the tools
//   - version: Display version information
//
// Configuration comes from defaults, an optional --config file, environment
// variables and flags, in increasing precedence.
package cmd
