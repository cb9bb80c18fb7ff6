package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/pulse/pkg/models"
)

// NewMemoryStores creates a fully in-memory StoreSet for tests and dev mode.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Notifications: NewMemoryNotificationStore(),
		Users:         NewMemoryDirectory(),
		Cases:         NewMemoryCaseStore(),
		Tickets:       NewMemoryTicketStore(),
		Stock:         NewMemoryStockStore(),
	}
}

// MemoryNotificationStore provides an in-memory NotificationStore.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications map[string]*models.Notification
	lastCreated   map[string]time.Time
	now           func() time.Time
}

// NewMemoryNotificationStore creates an in-memory notification store.
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{
		notifications: make(map[string]*models.Notification),
		lastCreated:   make(map[string]time.Time),
		now:           time.Now,
	}
}

// SetNow overrides the clock for tests.
func (s *MemoryNotificationStore) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *MemoryNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n == nil || n.UserID == "" {
		return fmt.Errorf("notification user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if _, exists := s.notifications[n.ID]; exists {
		return ErrAlreadyExists
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	// Keep creation timestamps strictly monotonic per user so listings
	// have a stable total order.
	if last, ok := s.lastCreated[n.UserID]; ok && !n.CreatedAt.After(last) {
		n.CreatedAt = last.Add(time.Microsecond)
	}
	s.lastCreated[n.UserID] = n.CreatedAt

	stored := *n
	if n.Data != nil {
		stored.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			stored.Data[k] = v
		}
	}
	s.notifications[n.ID] = &stored
	return nil
}

func (s *MemoryNotificationStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *n
	return &copied, nil
}

func (s *MemoryNotificationStore) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*models.Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Notification, 0)
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if opts.UnreadOnly && n.ReadAt != nil {
			continue
		}
		copied := *n
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	return paginateNotifications(matched, opts.Limit, opts.Offset), total, nil
}

func paginateNotifications(items []*models.Notification, limit, offset int) []*models.Notification {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func (s *MemoryNotificationStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *MemoryNotificationStore) MarkRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	if n.ReadAt != nil {
		return nil
	}
	at := s.now()
	if at.Before(n.CreatedAt) {
		at = n.CreatedAt
	}
	n.ReadAt = &at
	return nil
}

func (s *MemoryNotificationStore) MarkAllRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	for _, n := range s.notifications {
		if n.UserID != userID || n.ReadAt != nil {
			continue
		}
		stamp := at
		if stamp.Before(n.CreatedAt) {
			stamp = n.CreatedAt
		}
		n.ReadAt = &stamp
	}
	return nil
}

func (s *MemoryNotificationStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.SentAt = &at
	return nil
}

func (s *MemoryNotificationStore) Delete(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *MemoryNotificationStore) DeleteRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.notifications {
		if n.UserID == userID && n.ReadAt != nil {
			delete(s.notifications, id)
		}
	}
	return nil
}

// MemoryDirectory provides an in-memory Directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMemoryDirectory creates an in-memory user directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]*models.User)}
}

// Put inserts or replaces a user record.
func (s *MemoryDirectory) Put(user *models.User) {
	if user == nil || user.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.ID] = &copied
}

func (s *MemoryDirectory) GetUser(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryDirectory) UsersByRole(ctx context.Context, role models.Role, locationID string) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.User, 0)
	for _, user := range s.users {
		if !user.Active || user.Role != role {
			continue
		}
		if locationID != "" && user.LocationID != locationID {
			continue
		}
		copied := *user
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

// MemoryCaseStore provides an in-memory CaseStore.
type MemoryCaseStore struct {
	mu    sync.RWMutex
	cases map[string]*models.Case
}

// NewMemoryCaseStore creates an in-memory case store.
func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{cases: make(map[string]*models.Case)}
}

// Put inserts or replaces a case record.
func (s *MemoryCaseStore) Put(c *models.Case) {
	if c == nil || c.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *c
	s.cases[c.ID] = &copied
}

func (s *MemoryCaseStore) Get(ctx context.Context, id string) (*models.Case, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryCaseStore) ListOpen(ctx context.Context) ([]*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Case, 0)
	for _, c := range s.cases {
		if caseClosed(c.Status) {
			continue
		}
		copied := *c
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func caseClosed(status string) bool {
	switch status {
	case "closed", "cancelled", "resolved":
		return true
	}
	return false
}

func (s *MemoryCaseStore) UpdateAging(ctx context.Context, id string, aging models.AgingStatus, slaBreach bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.AgingStatus = aging
	c.SLABreach = slaBreach
	return nil
}

func (s *MemoryCaseStore) ListOverdueUnnotified(ctx context.Context) ([]*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.Case, 0)
	for _, c := range s.cases {
		if !c.SLABreach || c.OverdueNotifiedAt != nil || caseClosed(c.Status) {
			continue
		}
		copied := *c
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (s *MemoryCaseStore) MarkOverdueNotified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.OverdueNotifiedAt = &at
	return nil
}

// MemoryTicketStore provides an in-memory TicketStore.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket
	now     func() time.Time
}

// NewMemoryTicketStore creates an in-memory ticket store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{tickets: make(map[string]*models.Ticket), now: time.Now}
}

// SetNow overrides the clock for tests.
func (s *MemoryTicketStore) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Put inserts or replaces a ticket record.
func (s *MemoryTicketStore) Put(t *models.Ticket) {
	if t == nil || t.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tickets[t.ID] = &copied
}

func (s *MemoryTicketStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryTicketStore) ListWarrantyExpiringWithin(ctx context.Context, days int) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	cutoff := now.Add(time.Duration(days) * 24 * time.Hour)
	matched := make([]*models.Ticket, 0)
	for _, t := range s.tickets {
		if t.WarrantyExpiry == nil || ticketClosed(t.Status) {
			continue
		}
		if t.WarrantyExpiry.Before(now) || t.WarrantyExpiry.After(cutoff) {
			continue
		}
		copied := *t
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func ticketClosed(status string) bool {
	switch status {
	case "closed", "cancelled", "resolved", "delivered":
		return true
	}
	return false
}

func (s *MemoryTicketStore) SetWarrantyBandNotified(ctx context.Context, id string, band int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return ErrNotFound
	}
	t.WarrantyBandNotified = band
	return nil
}

// MemoryStockStore provides an in-memory StockStore.
type MemoryStockStore struct {
	mu    sync.RWMutex
	items map[string]*models.StockItem
}

// NewMemoryStockStore creates an in-memory stock store.
func NewMemoryStockStore() *MemoryStockStore {
	return &MemoryStockStore{items: make(map[string]*models.StockItem)}
}

// Put inserts or replaces a stock item.
func (s *MemoryStockStore) Put(item *models.StockItem) {
	if item == nil || item.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *item
	s.items[item.ID] = &copied
}

func (s *MemoryStockStore) Get(ctx context.Context, id string) (*models.StockItem, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func (s *MemoryStockStore) ListBelowReorder(ctx context.Context) ([]*models.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.StockItem, 0)
	for _, item := range s.items {
		if item.Quantity > item.ReorderLevel {
			continue
		}
		copied := *item
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (s *MemoryStockStore) MarkLowNotified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.LowNotifiedAt = &at
	return nil
}
