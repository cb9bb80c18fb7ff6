package dispatch

import (
	"fmt"

	"github.com/haasonsaas/pulse/pkg/models"
)

// renderContent builds the per-type title and message of a notification.
// The message favors the entity title; ids appear in the structured data
// payload rather than the prose.
func renderContent(ev Event, info entityInfo) (title, message string) {
	name := info.Title
	if name == "" {
		name = info.ID
	}

	switch ev.Type {
	case models.TypeCaseCreated:
		return "New case", fmt.Sprintf("Case %q was created", name)
	case models.TypeCaseAssigned:
		return "Case assigned to you", fmt.Sprintf("Case %q has been assigned to you", name)
	case models.TypeCaseStatusChanged:
		return "Case status changed", fmt.Sprintf("Case %q is now %s", name, ev.Extra["status"])
	case models.TypeCaseOverdue:
		return "Case overdue", fmt.Sprintf("Case %q has exceeded its SLA window", name)
	case models.TypeTicketCreated:
		return "New ticket", fmt.Sprintf("Ticket %q was created", name)
	case models.TypeTicketAssigned:
		return "Ticket assigned to you", fmt.Sprintf("Ticket %q has been assigned to you", name)
	case models.TypeTicketStatusChanged:
		return "Ticket status changed", fmt.Sprintf("Ticket %q is now %s", name, ev.Extra["status"])
	case models.TypeTicketWarrantyExpiring:
		return "Warranty expiring", fmt.Sprintf("Warranty on ticket %q expires in %s days", name, ev.Extra["days_remaining"])
	case models.TypeTicketResolved:
		return "Ticket resolved", fmt.Sprintf("Ticket %q has been resolved", name)
	case models.TypeStockLow:
		return "Low stock", fmt.Sprintf("Stock item %q is at or below its reorder level", name)
	case models.TypeStockTransfer:
		return "Stock transfer", fmt.Sprintf("Stock item %q was transferred", name)
	case models.TypeStockAllocation:
		return "Stock allocated", fmt.Sprintf("Stock item %q was allocated", name)
	default:
		return "Notification", name
	}
}

// renderEmail produces the subject and plain-text body of the email
// variant of a notification.
func renderEmail(n *models.Notification) (subject, body string) {
	subject = n.Title
	body = n.Message
	if ref, ok := n.Data["entity_id"]; ok {
		body = fmt.Sprintf("%s\n\nReference: %s %s", body, n.Data["entity_kind"], ref)
	}
	return subject, body
}
