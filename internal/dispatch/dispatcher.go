package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/appointments"
	"github.com/teemow/receptionist/internal/crm"
	"github.com/teemow/receptionist/internal/logging"
)

// Orchestrator runs the appointment workflows.
type Orchestrator interface {
	Manage(ctx context.Context, req appointments.ManageRequest) (appointments.ManageResult, error)
	Confirm(ctx context.Context, req appointments.ConfirmRequest) (appointments.ConfirmResult, error)
	Cancel(ctx context.Context, appointmentID string) (appointments.CancelResult, error)
}

// CRM looks up patients and queues messages for staff.
type CRM interface {
	FindPatient(ctx context.Context, name, dob, phone string) (*crm.Patient, error)
	CreateTicket(ctx context.Context, topic, summary, priority, assignee string) (crm.Ticket, error)
}

// PatientResult is the lookup_patient response. Every field is omitted when
// no patient matched.
type PatientResult struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	DOB   string `json:"dob,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// MessageResult is the send_message response.
type MessageResult struct {
	TicketID string `json:"ticket_id"`
	Status   string `json:"status"`
}

// TransferResult is the route_live response.
type TransferResult struct {
	Status string `json:"status"`
}

// Dispatcher validates calls and routes them.
type Dispatcher struct {
	orchestrator Orchestrator
	crm          CRM
	phones       *crm.PhoneNormalizer
	logger       *slog.Logger
}

// New creates a Dispatcher. phones may be nil.
func New(orchestrator Orchestrator, crmService CRM, phones *crm.PhoneNormalizer, logger *slog.Logger) *Dispatcher {
	if phones == nil {
		phones = crm.NewPhoneNormalizer("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		orchestrator: orchestrator,
		crm:          crmService,
		phones:       phones,
		logger:       logging.WithService(logger, "dispatch"),
	}
}

// Dispatch runs call and returns a JSON-encodable result. Argument errors are
// returned before any collaborator is called.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (any, error) {
	args, err := decodeArgs(call.Arguments)
	if err != nil {
		return nil, err
	}
	logger := logging.WithTool(d.logger, call.Tool.String())
	if call.CallID != "" {
		logger = logger.With(logging.CallID(call.CallID))
	}
	logger.Debug("dispatching tool call")

	switch call.Tool {
	case ToolManageAppointment:
		action, err := parseAction(args.ActionType)
		if err != nil {
			return nil, err
		}
		return d.manage(ctx, args, action)

	case ToolCancelOrReschedule:
		action := appointments.ActionCancel
		raw := args.Action
		if raw == "" {
			raw = args.ActionType
		}
		if strings.EqualFold(raw, string(appointments.ActionReschedule)) {
			action = appointments.ActionReschedule
		}
		return d.manage(ctx, args, action)

	case ToolConfirmBooking:
		req, err := confirmRequest(args, d.phones.Normalize)
		if err != nil {
			return nil, err
		}
		return d.orchestrator.Confirm(ctx, req)

	case ToolLookupPatient:
		p, err := d.crm.FindPatient(ctx, args.CallerName, args.CallerDOB, d.phones.Normalize(args.CallerPhone))
		if err != nil {
			return nil, apperr.From(err)
		}
		if p == nil {
			return PatientResult{}, nil
		}
		return PatientResult{ID: p.ID, Name: p.Name, DOB: p.DOB, Phone: p.Phone}, nil

	case ToolSendMessage:
		if args.Topic == "" {
			return nil, apperr.MissingArgument("topic")
		}
		if args.Summary == "" {
			return nil, apperr.MissingArgument("summary")
		}
		t, err := d.crm.CreateTicket(ctx, args.Topic, args.Summary, args.Priority, args.Assignee)
		if err != nil {
			return nil, apperr.From(err)
		}
		return MessageResult{TicketID: t.ID, Status: "queued"}, nil

	case ToolRouteLive:
		return TransferResult{Status: "transferring"}, nil

	default:
		return nil, apperr.UnknownTool(call.Tool.String())
	}
}

func (d *Dispatcher) manage(ctx context.Context, args rawArgs, action appointments.Action) (any, error) {
	req, err := manageRequest(args, action, d.phones.Normalize)
	if err != nil {
		return nil, err
	}
	if action == appointments.ActionCancel {
		return d.orchestrator.Cancel(ctx, req.AppointmentID)
	}
	return d.orchestrator.Manage(ctx, req)
}
