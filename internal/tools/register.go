package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/dispatch"
)

func callerOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("caller_name", mcp.Description("Caller's full name")),
		mcp.WithString("caller_dob", mcp.Description("Caller's date of birth")),
		mcp.WithString("caller_phone", mcp.Description("Caller's phone number")),
	}
}

func searchOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("date_range",
			mcp.Description("Preferred time, e.g. 'earliest', 'tomorrow afternoon', 'next tuesday' or an RFC3339 range 'start/end'"),
		),
		mcp.WithString("reason", mcp.Description("Reason for the visit")),
		mcp.WithString("provider", mcp.Description("Preferred provider")),
		mcp.WithString("location", mcp.Description("Preferred location")),
	}
}

func newTool(name dispatch.Tool, description string, groups ...[]mcp.ToolOption) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(description)}
	for _, g := range groups {
		opts = append(opts, g...)
	}
	return mcp.NewTool(name.String(), opts...)
}

// Definitions returns the MCP definitions of the canonical tools.
func Definitions() []mcp.Tool {
	return []mcp.Tool{
		newTool(dispatch.ToolManageAppointment,
			"Find open slots and place short-lived holds on up to three of them. Returns options with hold ids to confirm.",
			[]mcp.ToolOption{
				mcp.WithString("action_type",
					mcp.Enum("book", "reschedule", "cancel"),
					mcp.Description("What the caller wants to do. Defaults to book"),
				),
				mcp.WithString("appointment_id", mcp.Description("Existing appointment, required for reschedule and cancel")),
			},
			callerOptions(), searchOptions()),

		newTool(dispatch.ToolConfirmBooking,
			"Book the slot behind a hold returned by manage_appointment. Retrying a confirmed hold returns the same appointment.",
			[]mcp.ToolOption{
				mcp.WithString("hold_id", mcp.Required(), mcp.Description("Hold id from the chosen option")),
				mcp.WithString("slot_id", mcp.Required(), mcp.Description("Slot id from the chosen option")),
				mcp.WithString("previous_appointment_id", mcp.Description("Appointment replaced by this booking")),
			},
			callerOptions()),

		newTool(dispatch.ToolCancelOrReschedule,
			"Cancel an appointment, or find new options for it when action is 'reschedule'.",
			[]mcp.ToolOption{
				mcp.WithString("appointment_id", mcp.Required(), mcp.Description("Appointment to cancel or move")),
				mcp.WithString("action",
					mcp.Enum("cancel", "reschedule"),
					mcp.Description("Defaults to cancel"),
				),
			},
			callerOptions(), searchOptions()),

		newTool(dispatch.ToolLookupPatient,
			"Look up a patient record by phone, or by name and date of birth.",
			callerOptions()),

		newTool(dispatch.ToolSendMessage,
			"Leave a message for the practice staff.",
			[]mcp.ToolOption{
				mcp.WithString("topic", mcp.Required(), mcp.Description("Short topic, e.g. billing")),
				mcp.WithString("summary", mcp.Required(), mcp.Description("What the caller needs")),
				mcp.WithString("priority", mcp.Description("e.g. normal or urgent. Defaults to normal")),
				mcp.WithString("assignee", mcp.Description("Staff member or team")),
			},
			callerOptions()),

		newTool(dispatch.ToolRouteLive,
			"Transfer the caller to a live staff member."),
	}
}

// Register adds the canonical tools to s. Calls enter at the dispatcher
// under their canonical names.
func Register(s *mcpserver.MCPServer, inv *Invoker) {
	for _, def := range Definitions() {
		tool, _ := dispatch.ParseTool(def.Name)
		s.AddTool(def, handler(tool, inv))
	}
}

func handler(tool dispatch.Tool, inv *Invoker) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		result, err := inv.Invoke(ctx, dispatch.Call{Tool: tool, Arguments: args})
		if err != nil {
			body, merr := json.Marshal(apperr.ToBody(err))
			if merr != nil {
				return nil, merr
			}
			return mcp.NewToolResultError(string(body)), nil
		}

		body, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
