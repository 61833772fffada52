package dispatch

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/appointments"
	"github.com/teemow/receptionist/internal/holds"
)

// rawArgs is the union of argument fields accepted by the tools.
type rawArgs struct {
	ActionType            string `mapstructure:"action_type"`
	Action                string `mapstructure:"action"`
	CallerName            string `mapstructure:"caller_name"`
	CallerDOB             string `mapstructure:"caller_dob"`
	CallerPhone           string `mapstructure:"caller_phone"`
	DateRange             string `mapstructure:"date_range"`
	Reason                string `mapstructure:"reason"`
	Provider              string `mapstructure:"provider"`
	Location              string `mapstructure:"location"`
	AppointmentID         string `mapstructure:"appointment_id"`
	PreviousAppointmentID string `mapstructure:"previous_appointment_id"`
	HoldID                string `mapstructure:"hold_id"`
	SlotID                string `mapstructure:"slot_id"`
	Topic                 string `mapstructure:"topic"`
	Summary               string `mapstructure:"summary"`
	Priority              string `mapstructure:"priority"`
	Assignee              string `mapstructure:"assignee"`
}

// decodeArgs converts loosely typed JSON arguments. Numbers are accepted
// where strings are expected; nested objects are not.
func decodeArgs(args map[string]any) (rawArgs, error) {
	var out rawArgs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, apperr.Internal(err)
	}
	if err := dec.Decode(args); err != nil {
		return out, apperr.InvalidArgument("arguments", err.Error())
	}

	for _, f := range []*string{
		&out.ActionType, &out.Action, &out.CallerName, &out.CallerDOB, &out.CallerPhone,
		&out.DateRange, &out.Reason, &out.Provider, &out.Location, &out.AppointmentID,
		&out.PreviousAppointmentID, &out.HoldID, &out.SlotID, &out.Topic, &out.Summary,
		&out.Priority, &out.Assignee,
	} {
		*f = strings.TrimSpace(*f)
	}
	return out, nil
}

func (a rawArgs) caller(normalizePhone func(string) string) holds.CallerContext {
	return holds.CallerContext{
		Name:   a.CallerName,
		DOB:    a.CallerDOB,
		Phone:  normalizePhone(a.CallerPhone),
		Reason: a.Reason,
	}
}

// parseAction validates action_type for manage_appointment. Blank means book.
func parseAction(raw string) (appointments.Action, error) {
	switch strings.ToLower(raw) {
	case "", "book":
		return appointments.ActionBook, nil
	case "reschedule":
		return appointments.ActionReschedule, nil
	case "cancel":
		return appointments.ActionCancel, nil
	default:
		return "", apperr.InvalidArgument("action_type", "action_type '"+raw+"' is not supported")
	}
}

// manageRequest validates manage_appointment arguments.
func manageRequest(a rawArgs, action appointments.Action, normalizePhone func(string) string) (appointments.ManageRequest, error) {
	req := appointments.ManageRequest{
		Action:        action,
		Caller:        a.caller(normalizePhone),
		DateRange:     a.DateRange,
		Provider:      a.Provider,
		Location:      a.Location,
		AppointmentID: a.AppointmentID,
	}

	switch action {
	case appointments.ActionBook:
		if req.Caller.Name == "" {
			return req, apperr.MissingArgument("caller_name")
		}
	case appointments.ActionReschedule, appointments.ActionCancel:
		if req.AppointmentID == "" {
			return req, apperr.MissingArgument("appointment_id")
		}
	}
	return req, nil
}

// confirmRequest validates confirm_booking arguments.
func confirmRequest(a rawArgs, normalizePhone func(string) string) (appointments.ConfirmRequest, error) {
	if a.HoldID == "" {
		return appointments.ConfirmRequest{}, apperr.MissingArgument("hold_id")
	}
	if a.SlotID == "" {
		return appointments.ConfirmRequest{}, apperr.MissingArgument("slot_id")
	}
	return appointments.ConfirmRequest{
		HoldID:                a.HoldID,
		SlotID:                a.SlotID,
		Caller:                a.caller(normalizePhone),
		PreviousAppointmentID: a.PreviousAppointmentID,
	}, nil
}
