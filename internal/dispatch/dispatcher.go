// Package dispatch turns domain events into notifications: it resolves
// the recipient set from a declarative rule table, persists one durable
// row per recipient, pushes to live connections best-effort, and hands
// opted-in recipients off to the mail transport asynchronously.
//
// Persistence always comes first. A notification that cannot be written
// is not pushed; a push or email that fails never removes the durable
// row. Dispatch is strictly additive and never mutates domain entities.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/pulse/internal/mail"
	"github.com/haasonsaas/pulse/internal/observability"
	"github.com/haasonsaas/pulse/internal/store"
	"github.com/haasonsaas/pulse/pkg/models"
)

// Event is one domain occurrence to fan out.
type Event struct {
	Type        models.NotificationType
	Entity      models.EntityRef
	TriggeredBy string
	Extra       map[string]string
}

// Pusher is the realtime delivery surface the dispatcher needs from the
// connection registry.
type Pusher interface {
	SendToUser(userID string, payload any)
	SendToRole(role models.Role, payload any)
	IsOnline(userID string) bool
}

// PushPayload is the wire shape of a realtime notification push. It
// carries the persisted row minus its read/sent bookkeeping.
type PushPayload struct {
	ID        string                  `json:"id"`
	Type      models.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Data      map[string]string       `json:"data,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// entityInfo is the slice of a domain record the resolver and templates
// need.
type entityInfo struct {
	Kind       models.EntityKind
	ID         string
	Title      string
	CreatedBy  string
	AssignedTo string
	LocationID string
}

// Dispatcher resolves recipients and delivers notifications.
type Dispatcher struct {
	stores  store.StoreSet
	pusher  Pusher
	mailer  mail.Mailer
	metrics *observability.Metrics
	logger  *slog.Logger
	rules   map[models.NotificationType][]Selector
	now     func() time.Time

	emailWG sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMailer enables the email channel. A nil mailer leaves it disabled.
func WithMailer(m mail.Mailer) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

// WithMetrics attaches dispatch metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithNow overrides the clock. Used by tests and the scheduler harness.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher over the given stores and realtime pusher.
func New(stores store.StoreSet, pusher Pusher, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		stores: stores,
		pusher: pusher,
		logger: logger.With("component", "dispatch"),
		rules:  defaultRules(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch fans one event out to its resolved recipient set.
//
// Recipient resolution failure abandons the whole dispatch and is
// returned to the caller; nothing is delivered. Past that point failures
// are per recipient: a row that cannot be persisted skips its push and
// the loop continues, and email hand-off happens asynchronously without
// affecting the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		return ErrInvalidInput("event type is required", nil)
	}

	info, err := d.loadEntity(ctx, ev.Entity)
	if err != nil {
		return ErrResolution(fmt.Sprintf("load %s %s", ev.Entity.Kind, ev.Entity.ID), err)
	}
	recipients, err := d.resolve(ctx, ev, info)
	if err != nil {
		return ErrResolution(fmt.Sprintf("resolve recipients for %s", ev.Type), err)
	}
	if len(recipients) == 0 {
		d.logger.Debug("no recipients", "type", ev.Type, "entity_id", ev.Entity.ID)
		return nil
	}

	title, message := renderContent(ev, info)
	data := eventData(ev, info)

	for _, user := range recipients {
		n := &models.Notification{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Type:      ev.Type,
			Title:     title,
			Message:   message,
			Data:      data,
			Channel:   models.ChannelInApp,
			CreatedAt: d.now(),
		}
		if err := d.stores.Notifications.Create(ctx, n); err != nil {
			// Unrecorded must never look delivered: skip the push too.
			d.logger.Error("persist failed, skipping recipient",
				"type", ev.Type, "user_id", user.ID, "error", err)
			d.countFailure(models.ChannelInApp, "persistence")
			continue
		}
		d.countDispatched(ev.Type, models.ChannelInApp)
		d.pusher.SendToUser(user.ID, payloadFor(n))

		if d.mailer != nil && user.EmailOptIn {
			d.sendEmailAsync(user, n)
		}
	}
	return nil
}

// CreateInAppNotification persists a single notification and pushes it.
// It is the primitive behind Dispatch's per-recipient step and the
// administrative test hook.
func (d *Dispatcher) CreateInAppNotification(ctx context.Context, userID string, typ models.NotificationType, title, message string, data map[string]string) (*models.Notification, error) {
	if userID == "" {
		return nil, ErrInvalidInput("user id is required", nil)
	}
	if typ == "" {
		typ = models.TypeSystem
	}
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		Channel:   models.ChannelInApp,
		CreatedAt: d.now(),
	}
	if err := d.stores.Notifications.Create(ctx, n); err != nil {
		return nil, ErrPersistence("create notification", err)
	}
	d.countDispatched(typ, models.ChannelInApp)
	d.pusher.SendToUser(userID, payloadFor(n))
	return n, nil
}

// BroadcastSummary pushes one aggregate realtime notice to a role room.
// Summaries are ephemeral and never persisted.
func (d *Dispatcher) BroadcastSummary(role models.Role, payload any) {
	d.pusher.SendToRole(role, payload)
}

// List returns a page of the user's notifications and the total count
// matching the filter.
func (d *Dispatcher) List(ctx context.Context, userID string, opts store.ListOptions) ([]*models.Notification, int, error) {
	return d.stores.Notifications.ListForUser(ctx, userID, opts)
}

// UnreadCount returns the user's unread notification count.
func (d *Dispatcher) UnreadCount(ctx context.Context, userID string) (int, error) {
	return d.stores.Notifications.UnreadCount(ctx, userID)
}

// MarkRead marks one notification read. Already-read ids are a no-op;
// foreign or missing ids return store.ErrNotFound.
func (d *Dispatcher) MarkRead(ctx context.Context, id, userID string) error {
	return d.stores.Notifications.MarkRead(ctx, id, userID)
}

// MarkAllRead marks every unread notification of the user read.
func (d *Dispatcher) MarkAllRead(ctx context.Context, userID string) error {
	return d.stores.Notifications.MarkAllRead(ctx, userID)
}

// Delete removes one of the user's notifications.
func (d *Dispatcher) Delete(ctx context.Context, id, userID string) error {
	return d.stores.Notifications.Delete(ctx, id, userID)
}

// DeleteRead removes every read notification of the user.
func (d *Dispatcher) DeleteRead(ctx context.Context, userID string) error {
	return d.stores.Notifications.DeleteRead(ctx, userID)
}

// Wait blocks until in-flight email hand-offs finish. Called at shutdown
// and by tests.
func (d *Dispatcher) Wait() {
	d.emailWG.Wait()
}

// loadEntity fetches the slice of the referenced record the resolver
// needs. An empty reference yields empty info, for events that carry no
// entity.
func (d *Dispatcher) loadEntity(ctx context.Context, ref models.EntityRef) (entityInfo, error) {
	if ref.ID == "" {
		return entityInfo{}, nil
	}
	switch ref.Kind {
	case models.EntityCase:
		c, err := d.stores.Cases.Get(ctx, ref.ID)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{
			Kind: ref.Kind, ID: c.ID, Title: c.Title,
			CreatedBy: c.CreatedBy, AssignedTo: c.AssignedTo, LocationID: c.LocationID,
		}, nil
	case models.EntityTicket:
		t, err := d.stores.Tickets.Get(ctx, ref.ID)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{
			Kind: ref.Kind, ID: t.ID, Title: t.Title,
			CreatedBy: t.CreatedBy, AssignedTo: t.AssignedTo, LocationID: t.LocationID,
		}, nil
	case models.EntityStock:
		s, err := d.stores.Stock.Get(ctx, ref.ID)
		if err != nil {
			return entityInfo{}, err
		}
		return entityInfo{
			Kind: ref.Kind, ID: s.ID, Title: s.Name, LocationID: s.LocationID,
		}, nil
	default:
		return entityInfo{}, fmt.Errorf("unknown entity kind %q", ref.Kind)
	}
}

// resolve evaluates the event's rule table entry and returns the
// deduplicated recipient set. Inactive and unknown users are dropped
// silently; store failures abort resolution.
func (d *Dispatcher) resolve(ctx context.Context, ev Event, info entityInfo) ([]*models.User, error) {
	var out []*models.User
	seen := make(map[string]struct{})
	add := func(u *models.User) {
		if u == nil || !u.Active {
			return
		}
		if _, dup := seen[u.ID]; dup {
			return
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	addByID := func(id string) error {
		if id == "" {
			return nil
		}
		u, err := d.stores.Users.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		add(u)
		return nil
	}

	for _, sel := range d.rules[ev.Type] {
		if !sel.applies(ev) {
			continue
		}
		switch sel.Scope {
		case ScopeCreator:
			if err := addByID(info.CreatedBy); err != nil {
				return nil, err
			}
		case ScopeAssignee:
			if err := addByID(info.AssignedTo); err != nil {
				return nil, err
			}
		case ScopeExtraUser:
			if err := addByID(ev.Extra[sel.Key]); err != nil {
				return nil, err
			}
		case ScopeRole:
			locationID := info.LocationID
			if sel.AllLocations {
				locationID = ""
			}
			users, err := d.stores.Users.UsersByRole(ctx, sel.Role, locationID)
			if err != nil {
				return nil, err
			}
			for _, u := range users {
				add(u)
			}
		}
	}
	return out, nil
}

// applies reports whether the selector's status restriction matches the
// event.
func (s Selector) applies(ev Event) bool {
	if len(s.Statuses) == 0 {
		return true
	}
	status := ev.Extra["status"]
	for _, want := range s.Statuses {
		if status == want {
			return true
		}
	}
	return false
}

// sendEmailAsync renders and hands off the email variant without
// blocking the dispatch loop. SentAt is recorded only on success.
func (d *Dispatcher) sendEmailAsync(user *models.User, n *models.Notification) {
	d.emailWG.Add(1)
	go func() {
		defer d.emailWG.Done()
		subject, body := renderEmail(n)
		msg := mail.Message{To: user.Email, ToName: user.Name, Subject: subject, Body: body}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.mailer.Send(ctx, msg); err != nil {
			d.logger.Warn("email hand-off failed",
				"notification_id", n.ID, "user_id", user.ID, "error", err)
			d.countFailure(models.ChannelEmail, "email")
			return
		}
		d.countDispatched(n.Type, models.ChannelEmail)
		if err := d.stores.Notifications.MarkSent(ctx, n.ID, d.now()); err != nil {
			d.logger.Warn("record sent_at failed", "notification_id", n.ID, "error", err)
		}
	}()
}

func payloadFor(n *models.Notification) PushPayload {
	return PushPayload{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		CreatedAt: n.CreatedAt,
	}
}

// eventData builds the structured payload stored with each notification.
func eventData(ev Event, info entityInfo) map[string]string {
	data := make(map[string]string, len(ev.Extra)+3)
	for k, v := range ev.Extra {
		data[k] = v
	}
	if info.ID != "" {
		data["entity_kind"] = string(info.Kind)
		data["entity_id"] = info.ID
	}
	if ev.TriggeredBy != "" {
		data["triggered_by"] = ev.TriggeredBy
	}
	return data
}

func (d *Dispatcher) countDispatched(typ models.NotificationType, channel models.Channel) {
	if d.metrics != nil {
		d.metrics.NotificationsDispatched.WithLabelValues(string(typ), string(channel)).Inc()
	}
}

func (d *Dispatcher) countFailure(channel models.Channel, reason string) {
	if d.metrics != nil {
		d.metrics.DeliveryFailures.WithLabelValues(string(channel), reason).Inc()
	}
}
