// Package logging provides structured logging utilities for the receptionist
// service.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Key Features
//
//   - Logger construction from configuration (JSON or text, optional rotating file)
//   - PII sanitization (caller phone numbers and names are hashed)
//   - Consistent attribute naming across the codebase
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "holds.confirm")
//	logger.Info("hold confirmed",
//	    logging.HoldID(h.ID),
//	    logging.Status("success"))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("patient upserted",
//	    logging.CallerHash(phone))
//
// # Security Considerations
//
//   - Caller identifiers are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
