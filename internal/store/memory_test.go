package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/pulse/pkg/models"
)

func TestMemoryNotificationStoreMonotonicCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotificationStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return base })

	for i := 0; i < 3; i++ {
		n := &models.Notification{UserID: "u1", Type: models.TypeSystem, Title: "t"}
		if err := s.Create(ctx, n); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	list, total, err := s.ListForUser(ctx, "u1", ListOptions{})
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("ListForUser() = %d items, total %d, want 3", len(list), total)
	}
	for i := 1; i < len(list); i++ {
		if !list[i-1].CreatedAt.After(list[i].CreatedAt) {
			t.Errorf("listing not strictly ordered: %v then %v", list[i-1].CreatedAt, list[i].CreatedAt)
		}
	}
}

func TestMemoryNotificationStoreMarkRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotificationStore()
	n := &models.Notification{UserID: "u1", Type: models.TypeSystem}
	if err := s.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.MarkRead(ctx, n.ID, "u1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	first, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first.ReadAt == nil {
		t.Fatal("ReadAt not set after MarkRead")
	}
	if first.ReadAt.Before(first.CreatedAt) {
		t.Errorf("ReadAt %v precedes CreatedAt %v", first.ReadAt, first.CreatedAt)
	}

	// Second mark is a no-op that keeps the original timestamp.
	if err := s.MarkRead(ctx, n.ID, "u1"); err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}
	second, _ := s.Get(ctx, n.ID)
	if !second.ReadAt.Equal(*first.ReadAt) {
		t.Errorf("ReadAt changed on repeat: %v != %v", second.ReadAt, first.ReadAt)
	}

	// Foreign user gets not-found and the row stays untouched.
	if err := s.MarkRead(ctx, n.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign MarkRead() error = %v, want ErrNotFound", err)
	}
	if err := s.MarkRead(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing MarkRead() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryNotificationStoreUnreadAndBulkOps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotificationStore()
	var ids []string
	for i := 0; i < 4; i++ {
		n := &models.Notification{UserID: "u1", Type: models.TypeCaseCreated}
		if err := s.Create(ctx, n); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, n.ID)
	}
	if err := s.Create(ctx, &models.Notification{UserID: "u2", Type: models.TypeCaseCreated}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.MarkRead(ctx, ids[0], "u1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	count, err := s.UnreadCount(ctx, "u1")
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if count != 3 {
		t.Errorf("UnreadCount() = %d, want 3", count)
	}

	unread, total, err := s.ListForUser(ctx, "u1", ListOptions{UnreadOnly: true})
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if total != 3 || len(unread) != 3 {
		t.Errorf("unread listing = %d/%d, want 3/3", len(unread), total)
	}

	if err := s.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}
	count, _ = s.UnreadCount(ctx, "u1")
	if count != 0 {
		t.Errorf("UnreadCount() after MarkAllRead = %d, want 0", count)
	}
	otherCount, _ := s.UnreadCount(ctx, "u2")
	if otherCount != 1 {
		t.Errorf("u2 UnreadCount() = %d, want 1", otherCount)
	}

	if err := s.DeleteRead(ctx, "u1"); err != nil {
		t.Fatalf("DeleteRead() error = %v", err)
	}
	_, total, _ = s.ListForUser(ctx, "u1", ListOptions{})
	if total != 0 {
		t.Errorf("total after DeleteRead = %d, want 0", total)
	}
}

func TestMemoryNotificationStoreDeleteScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotificationStore()
	n := &models.Notification{UserID: "u1", Type: models.TypeSystem}
	if err := s.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Delete(ctx, n.ID, "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, n.ID); err != nil {
		t.Fatalf("row deleted by foreign user: %v", err)
	}
	if err := s.Delete(ctx, n.ID, "u1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryDirectoryUsersByRole(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.Put(&models.User{ID: "m1", Role: models.RoleManager, LocationID: "loc1", Active: true})
	d.Put(&models.User{ID: "m2", Role: models.RoleManager, LocationID: "loc2", Active: true})
	d.Put(&models.User{ID: "m3", Role: models.RoleManager, LocationID: "loc1", Active: false})
	d.Put(&models.User{ID: "t1", Role: models.RoleTechnician, LocationID: "loc1", Active: true})

	scoped, err := d.UsersByRole(ctx, models.RoleManager, "loc1")
	if err != nil {
		t.Fatalf("UsersByRole() error = %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "m1" {
		t.Errorf("scoped managers = %v, want [m1]", userIDs(scoped))
	}

	all, err := d.UsersByRole(ctx, models.RoleManager, "")
	if err != nil {
		t.Fatalf("UsersByRole() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all managers = %v, want [m1 m2]", userIDs(all))
	}
}

func TestMemoryCaseStoreOverdueBookkeeping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaseStore()
	s.Put(&models.Case{ID: "c1", Status: "open", SLABreach: true})
	s.Put(&models.Case{ID: "c2", Status: "open", SLABreach: false})
	s.Put(&models.Case{ID: "c3", Status: "closed", SLABreach: true})

	due, err := s.ListOverdueUnnotified(ctx)
	if err != nil {
		t.Fatalf("ListOverdueUnnotified() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != "c1" {
		t.Fatalf("overdue set = %v, want [c1]", caseIDs(due))
	}

	if err := s.MarkOverdueNotified(ctx, "c1", time.Now()); err != nil {
		t.Fatalf("MarkOverdueNotified() error = %v", err)
	}
	due, _ = s.ListOverdueUnnotified(ctx)
	if len(due) != 0 {
		t.Errorf("overdue set after marking = %v, want empty", caseIDs(due))
	}
}

func TestMemoryTicketStoreWarrantyWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTicketStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return now })

	in5 := now.Add(5 * 24 * time.Hour)
	in40 := now.Add(40 * 24 * time.Hour)
	past := now.Add(-24 * time.Hour)
	s.Put(&models.Ticket{ID: "t1", Status: "open", WarrantyExpiry: &in5})
	s.Put(&models.Ticket{ID: "t2", Status: "open", WarrantyExpiry: &in40})
	s.Put(&models.Ticket{ID: "t3", Status: "open", WarrantyExpiry: &past})
	s.Put(&models.Ticket{ID: "t4", Status: "open"})
	s.Put(&models.Ticket{ID: "t5", Status: "closed", WarrantyExpiry: &in5})

	got, err := s.ListWarrantyExpiringWithin(ctx, 30)
	if err != nil {
		t.Fatalf("ListWarrantyExpiringWithin() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Errorf("expiring set = %v, want [t1]", ticketIDs(got))
	}
}

func TestMemoryStockStoreLowItems(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStockStore()
	s.Put(&models.StockItem{ID: "i1", Quantity: 2, ReorderLevel: 5})
	s.Put(&models.StockItem{ID: "i2", Quantity: 5, ReorderLevel: 5})
	s.Put(&models.StockItem{ID: "i3", Quantity: 9, ReorderLevel: 5})

	low, err := s.ListBelowReorder(ctx)
	if err != nil {
		t.Fatalf("ListBelowReorder() error = %v", err)
	}
	if len(low) != 2 {
		t.Fatalf("low items = %v, want [i1 i2]", stockIDs(low))
	}

	if err := s.MarkLowNotified(ctx, "i1", time.Now()); err != nil {
		t.Fatalf("MarkLowNotified() error = %v", err)
	}
	item, _ := s.Get(ctx, "i1")
	if item.LowNotifiedAt == nil {
		t.Error("LowNotifiedAt not set")
	}
}

func userIDs(users []*models.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func caseIDs(cases []*models.Case) []string {
	out := make([]string, len(cases))
	for i, c := range cases {
		out[i] = c.ID
	}
	return out
}

func ticketIDs(tickets []*models.Ticket) []string {
	out := make([]string, len(tickets))
	for i, tk := range tickets {
		out[i] = tk.ID
	}
	return out
}

func stockIDs(items []*models.StockItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
