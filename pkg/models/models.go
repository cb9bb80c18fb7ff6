// Package models defines the core types shared across Pulse components:
// users and identities, durable notifications, and the domain records
// (cases, tickets, stock items) whose time-derived state the scheduler
// maintains.
package models

import "time"

// Role identifies a user's function within a location.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleManager     Role = "manager"
	RoleSupervisor  Role = "supervisor"
	RoleTechnician  Role = "technician"
	RoleStorekeeper Role = "storekeeper"
)

// SupervisoryRoles are the roles allowed to use administrative surfaces
// and that receive location-scoped escalation notices.
var SupervisoryRoles = []Role{RoleAdmin, RoleManager, RoleSupervisor}

// IsSupervisory reports whether the role carries supervisory privileges.
func (r Role) IsSupervisory() bool {
	for _, role := range SupervisoryRoles {
		if r == role {
			return true
		}
	}
	return false
}

// User is a directory record supplied by the persistence collaborator.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	LocationID string `json:"location_id"`
	EmailOptIn bool   `json:"email_opt_in"`
	Active     bool   `json:"active"`
}

// Identity is the verified subject of a live connection. It is produced by
// the auth service at handshake time and never changes for the lifetime of
// the connection.
type Identity struct {
	UserID     string `json:"user_id"`
	Role       Role   `json:"role"`
	LocationID string `json:"location_id"`
}

// Channel is the delivery channel of a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
)

// NotificationType enumerates the domain events a notification can carry.
type NotificationType string

const (
	TypeCaseCreated            NotificationType = "case_created"
	TypeCaseAssigned           NotificationType = "case_assigned"
	TypeCaseStatusChanged      NotificationType = "case_status_changed"
	TypeCaseOverdue            NotificationType = "case_overdue"
	TypeTicketCreated          NotificationType = "ticket_created"
	TypeTicketAssigned         NotificationType = "ticket_assigned"
	TypeTicketStatusChanged    NotificationType = "ticket_status_changed"
	TypeTicketWarrantyExpiring NotificationType = "ticket_warranty_expiring"
	TypeTicketResolved         NotificationType = "ticket_resolved"
	TypeStockLow               NotificationType = "stock_low"
	TypeStockTransfer          NotificationType = "stock_transfer"
	TypeStockAllocation        NotificationType = "stock_allocation"
	TypeSystem                 NotificationType = "system"
)

// Notification is the durable per-recipient record of a delivered notice.
// Rows are immutable except for ReadAt (set at most once) and SentAt
// (email channel only).
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Type      NotificationType  `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Channel   Channel           `json:"channel"`
	CreatedAt time.Time         `json:"created_at"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
}

// Read reports whether the notification has been read.
func (n *Notification) Read() bool {
	return n != nil && n.ReadAt != nil
}

// Priority classifies how quickly a case or ticket must be worked.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AgingStatus is the derived severity color of an entity based on elapsed
// time since creation relative to its priority's SLA window. The
// scheduler-computed value is authoritative; callers read it rather than
// recomputing from CreatedAt.
type AgingStatus string

const (
	AgingGreen  AgingStatus = "green"
	AgingYellow AgingStatus = "yellow"
	AgingOrange AgingStatus = "orange"
	AgingRed    AgingStatus = "red"
)

// EntityKind names the domain record a dispatch event refers to.
type EntityKind string

const (
	EntityCase   EntityKind = "case"
	EntityTicket EntityKind = "ticket"
	EntityStock  EntityKind = "stock_item"
)

// EntityRef points at a domain record without embedding it.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Case is a customer case record. Pulse reads cases and updates only their
// time-derived fields (AgingStatus, SLABreach, OverdueNotifiedAt).
type Case struct {
	ID                string
	Title             string
	Status            string
	Priority          Priority
	CreatedBy         string
	AssignedTo        string
	LocationID        string
	CreatedAt         time.Time
	AgingStatus       AgingStatus
	SLABreach         bool
	OverdueNotifiedAt *time.Time
}

// Ticket is a repair ticket with an optional warranty countdown. The
// scheduler records the closest warranty band already notified so repeated
// runs stay quiet until the ticket crosses the next band.
type Ticket struct {
	ID                   string
	Title                string
	Status               string
	Priority             Priority
	CreatedBy            string
	AssignedTo           string
	LocationID           string
	CreatedAt            time.Time
	AgingStatus          AgingStatus
	SLABreach            bool
	WarrantyExpiry       *time.Time
	WarrantyBandNotified int
}

// StockItem is an inventory record tracked for low-stock notices.
type StockItem struct {
	ID            string
	Name          string
	LocationID    string
	Quantity      int
	ReorderLevel  int
	LowNotifiedAt *time.Time
}
