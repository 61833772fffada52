package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation     = "operation"
	KeyService       = "service"
	KeyCallerHash    = "caller_hash"
	KeyDuration      = "duration"
	KeyStatus        = "status"
	KeyError         = "error"
	KeyTool          = "tool"
	KeyHoldID        = "hold_id"
	KeySlotID        = "slot_id"
	KeyGroupID       = "group_id"
	KeyAppointmentID = "appointment_id"
	KeyCallID        = "call_id"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(slog.String(KeyTool, tool))
}

// WithService returns a logger with the service attribute set.
func WithService(logger *slog.Logger, service string) *slog.Logger {
	return logger.With(slog.String(KeyService, service))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Service returns a slog attribute for the service name.
func Service(svc string) slog.Attr {
	return slog.String(KeyService, svc)
}

// Tool returns a slog attribute for the tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

func HoldID(id string) slog.Attr {
	return slog.String(KeyHoldID, id)
}

func SlotID(id string) slog.Attr {
	return slog.String(KeySlotID, id)
}

func GroupID(id string) slog.Attr {
	return slog.String(KeyGroupID, id)
}

func AppointmentID(id string) slog.Attr {
	return slog.String(KeyAppointmentID, id)
}

// CallID returns a slog attribute for the voice platform call id.
func CallID(id string) slog.Attr {
	return slog.String(KeyCallID, id)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
// This allows safely passing Err(maybeNilErr) without adding empty attributes.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		// Return an empty Group that slog will omit from output
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeCaller returns a hashed representation of a caller identifier
// (phone number or name) for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeCaller(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(id))
	return "caller:" + hex.EncodeToString(hash[:8])
}

// CallerHash returns a slog attribute with the anonymized caller identifier.
//
// Usage:
//
//	logger.Info("patient found", logging.CallerHash(phone))
func CallerHash(id string) slog.Attr {
	return slog.String(KeyCallerHash, AnonymizeCaller(id))
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
