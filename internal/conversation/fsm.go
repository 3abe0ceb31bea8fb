package conversation

import "github.com/anshumansp/concierge/internal/models"

// Event is an input to the conversation mode state machine.
type Event string

const (
	// EventSend fires when a visitor message is accepted for an exchange.
	EventSend Event = "send"
	// EventOpenLeadForm fires when a lead-capture affordance is activated.
	EventOpenLeadForm Event = "open_lead_form"
	// EventCancelLeadForm fires when the visitor dismisses the lead form.
	EventCancelLeadForm Event = "cancel_lead_form"
	// EventLeadSubmitted fires after the forms API acknowledges a submission.
	EventLeadSubmitted Event = "lead_submitted"
	// EventLeadFailed fires after a submission is rejected or fails to send.
	EventLeadFailed Event = "lead_failed"
)

// Transition returns the mode that follows the given event. It is a pure function
// so the mode machine can be exercised without a controller or rendering layer.
// Events that have no meaning in the current mode leave it unchanged.
func Transition(mode models.Mode, event Event) models.Mode {
	switch event {
	case EventSend:
		if mode == models.ModeWelcome {
			return models.ModeConversing
		}
	case EventOpenLeadForm:
		if mode != models.ModeLeadCapture {
			return models.ModeLeadCapture
		}
	case EventCancelLeadForm, EventLeadSubmitted, EventLeadFailed:
		if mode == models.ModeLeadCapture {
			return models.ModeConversing
		}
	}
	return mode
}
