// Package dispatch routes canonical tool calls to the appointment workflows
// and the CRM after validating their arguments.
package dispatch

// Tool is a canonical tool identifier. The set is closed; Dispatch switches
// over every value.
type Tool string

const (
	ToolManageAppointment  Tool = "manage_appointment"
	ToolConfirmBooking     Tool = "confirm_booking"
	ToolCancelOrReschedule Tool = "cancel_or_reschedule"
	ToolLookupPatient      Tool = "lookup_patient"
	ToolSendMessage        Tool = "send_message"
	ToolRouteLive          Tool = "route_live"
)

var allTools = []Tool{
	ToolManageAppointment,
	ToolConfirmBooking,
	ToolCancelOrReschedule,
	ToolLookupPatient,
	ToolSendMessage,
	ToolRouteLive,
}

// Tools returns every canonical tool.
func Tools() []Tool {
	out := make([]Tool, len(allTools))
	copy(out, allTools)
	return out
}

// ParseTool returns the canonical tool named exactly name.
func ParseTool(name string) (Tool, bool) {
	for _, t := range allTools {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}

func (t Tool) String() string {
	return string(t)
}

// Call is a normalized tool invocation.
type Call struct {
	Tool      Tool
	Arguments map[string]any
	// CallID and SessionID come from the request envelope when present.
	CallID    string
	SessionID string
}
