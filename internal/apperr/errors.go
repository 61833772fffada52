// Package apperr defines the error taxonomy shared by the normalizer,
// dispatcher, orchestrator and hold store, and how each error is reported
// to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a kind of failure on the wire.
type Code string

const (
	CodeNormalization       Code = "normalization_error"
	CodeUnrecognizedShape   Code = "unrecognized_payload_shape"
	CodeUnknownTool         Code = "unknown_tool"
	CodeMissingArgument     Code = "missing_argument"
	CodeInvalidArgument     Code = "invalid_argument"
	CodeUnauthorized        Code = "unauthorized"
	CodeHoldNotFound        Code = "hold_not_found"
	CodeHoldExpired         Code = "hold_expired"
	CodeSlotMismatch        Code = "slot_mismatch"
	CodeHoldAlreadyConsumed Code = "hold_already_consumed"
	CodeSlotUnavailable     Code = "slot_unavailable"
	CodeNoAvailability      Code = "no_availability"
	CodeGatewayTransient    Code = "gateway_transient"
	CodeGatewayInconsistent Code = "gateway_inconsistent"
	CodeInternal            Code = "internal"
)

// Category tells the caller what to do about an error.
type Category string

const (
	// CategoryCaller means the request must be fixed before retrying.
	CategoryCaller Category = "caller"
	// CategoryTransient means the same request may succeed later.
	CategoryTransient Category = "transient"
	// CategoryTerminal means the booking flow must be restarted.
	CategoryTerminal Category = "terminal"
)

type codeInfo struct {
	category Category
	status   int
}

var codes = map[Code]codeInfo{
	CodeNormalization:       {CategoryCaller, http.StatusBadRequest},
	CodeUnrecognizedShape:   {CategoryCaller, http.StatusBadRequest},
	CodeUnknownTool:         {CategoryCaller, http.StatusBadRequest},
	CodeMissingArgument:     {CategoryCaller, http.StatusUnprocessableEntity},
	CodeInvalidArgument:     {CategoryCaller, http.StatusUnprocessableEntity},
	CodeUnauthorized:        {CategoryCaller, http.StatusUnauthorized},
	CodeHoldNotFound:        {CategoryCaller, http.StatusNotFound},
	CodeSlotMismatch:        {CategoryCaller, http.StatusConflict},
	CodeHoldExpired:         {CategoryTerminal, http.StatusGone},
	CodeHoldAlreadyConsumed: {CategoryTerminal, http.StatusConflict},
	CodeSlotUnavailable:     {CategoryTerminal, http.StatusConflict},
	CodeNoAvailability:      {CategoryTerminal, http.StatusNotFound},
	CodeGatewayTransient:    {CategoryTransient, http.StatusServiceUnavailable},
	CodeGatewayInconsistent: {CategoryTerminal, http.StatusBadGateway},
	CodeInternal:            {CategoryTransient, http.StatusInternalServerError},
}

// Category returns the category of the code. Unknown codes are transient.
func (c Code) Category() Category {
	if info, ok := codes[c]; ok {
		return info.category
	}
	return CategoryTransient
}

// HTTPStatus returns the HTTP status used when the code is reported over HTTP.
func (c Code) HTTPStatus() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error is a classified application error.
type Error struct {
	Code    Code
	Message string
	// Field names the offending argument or payload key, if any.
	Field string
	// Value carries the offending value when echoing it back helps the caller.
	Value string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, apperr.ErrHoldExpired) matches any hold_expired error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Category is a shortcut for e.Code.Category().
func (e *Error) Category() Category {
	return e.Code.Category()
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with the given code wrapping err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Sentinels for use with errors.Is.
var (
	ErrNormalization       = New(CodeNormalization, "malformed payload")
	ErrUnrecognizedShape   = New(CodeUnrecognizedShape, "unrecognized payload shape")
	ErrUnknownTool         = New(CodeUnknownTool, "unknown tool")
	ErrMissingArgument     = New(CodeMissingArgument, "missing argument")
	ErrInvalidArgument     = New(CodeInvalidArgument, "invalid argument")
	ErrUnauthorized        = New(CodeUnauthorized, "unauthorized")
	ErrHoldNotFound        = New(CodeHoldNotFound, "hold not found")
	ErrHoldExpired         = New(CodeHoldExpired, "hold expired")
	ErrSlotMismatch        = New(CodeSlotMismatch, "slot does not match hold")
	ErrHoldAlreadyConsumed = New(CodeHoldAlreadyConsumed, "hold already consumed")
	ErrSlotUnavailable     = New(CodeSlotUnavailable, "slot already held")
	ErrNoAvailability      = New(CodeNoAvailability, "no availability")
	ErrGatewayTransient    = New(CodeGatewayTransient, "calendar unavailable")
	ErrGatewayInconsistent = New(CodeGatewayInconsistent, "calendar left in an inconsistent state")
	ErrInternal            = New(CodeInternal, "internal error")
)

// Normalization reports a payload that could not be read at all.
func Normalization(message string, err error) *Error {
	return &Error{Code: CodeNormalization, Message: message, Err: err}
}

// UnrecognizedShape reports a payload whose shape matches no known form.
func UnrecognizedShape(message string) *Error {
	return &Error{Code: CodeUnrecognizedShape, Message: message}
}

// UnknownTool reports a tool name absent from the alias table. The received
// name is echoed back exactly.
func UnknownTool(name string) *Error {
	return &Error{
		Code:    CodeUnknownTool,
		Message: fmt.Sprintf("unknown tool %q", name),
		Field:   "tool_name",
		Value:   name,
	}
}

// MissingArgument reports a required argument that was absent or blank.
func MissingArgument(field string) *Error {
	return &Error{
		Code:    CodeMissingArgument,
		Message: fmt.Sprintf("%s is required", field),
		Field:   field,
	}
}

// InvalidArgument reports an argument with an unusable value.
func InvalidArgument(field, message string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message, Field: field}
}

// Unauthorized reports a missing or wrong shared secret.
func Unauthorized() *Error {
	return &Error{Code: CodeUnauthorized, Message: "invalid webhook token"}
}

func HoldNotFound(holdID string) *Error {
	return &Error{Code: CodeHoldNotFound, Message: fmt.Sprintf("hold %s not found", holdID), Field: "hold_id", Value: holdID}
}

func HoldExpired(holdID string) *Error {
	return &Error{Code: CodeHoldExpired, Message: fmt.Sprintf("hold %s expired, search for new options", holdID), Field: "hold_id", Value: holdID}
}

func SlotMismatch(holdID, slotID string) *Error {
	return &Error{Code: CodeSlotMismatch, Message: fmt.Sprintf("hold %s is not for slot %s", holdID, slotID), Field: "slot_id", Value: slotID}
}

func HoldAlreadyConsumed(holdID string) *Error {
	return &Error{Code: CodeHoldAlreadyConsumed, Message: fmt.Sprintf("hold %s was already released", holdID), Field: "hold_id", Value: holdID}
}

func SlotUnavailable(slotID string) *Error {
	return &Error{Code: CodeSlotUnavailable, Message: fmt.Sprintf("slot %s is already held", slotID), Field: "slot_id", Value: slotID}
}

// GatewayTransient wraps a failed calendar call after which no state changed.
func GatewayTransient(op string, err error) *Error {
	return &Error{Code: CodeGatewayTransient, Message: fmt.Sprintf("calendar %s failed", op), Err: err}
}

// GatewayInconsistent wraps a failed follow-up call that left upstream state
// needing reconciliation.
func GatewayInconsistent(message string, err error) *Error {
	return &Error{Code: CodeGatewayInconsistent, Message: message, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Err: err}
}

// From returns err as an *Error, classifying unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// CodeOf returns the code of err, or "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// Body is the JSON shape of an error response.
type Body struct {
	Error    Code     `json:"error"`
	Message  string   `json:"message"`
	Category Category `json:"category"`
	Field    string   `json:"field,omitempty"`
	Value    string   `json:"value,omitempty"`
}

// ToBody renders err for the wire. Internal causes are not exposed.
func ToBody(err error) Body {
	e := From(err)
	msg := e.Message
	if e.Code == CodeNormalization && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return Body{
		Error:    e.Code,
		Message:  msg,
		Category: e.Category(),
		Field:    e.Field,
		Value:    e.Value,
	}
}
