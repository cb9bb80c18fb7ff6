// Package store defines the persistence collaborator boundary: durable
// notifications, the user directory, and the domain records whose
// time-derived state the scheduler maintains. Implementations exist for
// memory (tests, dev), sqlite (embedded default), and postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/pulse/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ListOptions narrows a notification listing.
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// NotificationStore persists per-recipient notification rows.
//
// Rows are immutable after creation except for read_at (set at most once)
// and sent_at (email hand-off bookkeeping). CreatedAt ordering is
// monotonic per user.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	Get(ctx context.Context, id string) (*models.Notification, error)
	ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*models.Notification, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)

	// MarkRead sets read_at once. Marking an already-read row is a no-op;
	// a missing row or one owned by another user returns ErrNotFound with
	// the row untouched.
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) error
	MarkSent(ctx context.Context, id string, at time.Time) error

	Delete(ctx context.Context, id, userID string) error
	DeleteRead(ctx context.Context, userID string) error
}

// Directory resolves users for recipient computation and handshake checks.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)

	// UsersByRole returns active users holding the role. An empty
	// locationID matches every location.
	UsersByRole(ctx context.Context, role models.Role, locationID string) ([]*models.User, error)
}

// CaseStore reads cases and writes only their time-derived fields.
type CaseStore interface {
	Get(ctx context.Context, id string) (*models.Case, error)
	ListOpen(ctx context.Context) ([]*models.Case, error)
	UpdateAging(ctx context.Context, id string, aging models.AgingStatus, slaBreach bool) error
	ListOverdueUnnotified(ctx context.Context) ([]*models.Case, error)
	MarkOverdueNotified(ctx context.Context, id string, at time.Time) error
}

// TicketStore reads tickets and records warranty-band bookkeeping.
type TicketStore interface {
	Get(ctx context.Context, id string) (*models.Ticket, error)

	// ListWarrantyExpiringWithin returns open tickets whose warranty
	// expires within the given number of days (expired tickets excluded).
	ListWarrantyExpiringWithin(ctx context.Context, days int) ([]*models.Ticket, error)
	SetWarrantyBandNotified(ctx context.Context, id string, band int) error
}

// StockStore reads inventory records for low-stock checks.
type StockStore interface {
	Get(ctx context.Context, id string) (*models.StockItem, error)
	ListBelowReorder(ctx context.Context) ([]*models.StockItem, error)
	MarkLowNotified(ctx context.Context, id string, at time.Time) error
}

// StoreSet groups the persistence dependencies handed to the dispatcher
// and scheduler.
type StoreSet struct {
	Notifications NotificationStore
	Users         Directory
	Cases         CaseStore
	Tickets       TicketStore
	Stock         StockStore
	closer        func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
