package instrumentation

import (
	"errors"

	"github.com/teemow/receptionist/internal/apperr"
)

// Calendar gateway operations used as metric labels.
const (
	OperationFindSlots = "find_slots"
	OperationPlaceHold = "place_hold"
	OperationConfirm   = "confirm"
	OperationCancel    = "cancel"
	OperationRelease   = "release"
)

// knownPaths are the HTTP routes recorded verbatim. Anything else is "other".
var knownPaths = map[string]bool{
	"/retell/tools": true,
	"/health":       true,
	"/healthz":      true,
	"/readyz":       true,
	"/mcp":          true,
	"/metrics":      true,
}

// MetricPath bounds the path label of HTTP metrics.
//
// Example:
//
//	MetricPath("/retell/tools")  // "/retell/tools"
//	MetricPath("/wp-login.php")  // "other"
func MetricPath(path string) string {
	if knownPaths[path] {
		return path
	}
	return "other"
}

// ErrorStatus returns the status label for an operation result: "success",
// an apperr code, or "error" for anything else.
func ErrorStatus(err error) string {
	if err == nil {
		return StatusSuccess
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	return StatusError
}
