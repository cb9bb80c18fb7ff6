package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/pulse/internal/config"
	"github.com/haasonsaas/pulse/internal/dispatch"
	"github.com/haasonsaas/pulse/internal/store"
	"github.com/haasonsaas/pulse/pkg/models"
)

type recordingPusher struct {
	mu    sync.Mutex
	users map[string]int
	roles map[models.Role][]any
}

func newRecordingPusher() *recordingPusher {
	return &recordingPusher{users: make(map[string]int), roles: make(map[models.Role][]any)}
}

func (p *recordingPusher) SendToUser(userID string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID]++
}

func (p *recordingPusher) SendToRole(role models.Role, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles[role] = append(p.roles[role], payload)
}

func (p *recordingPusher) IsOnline(string) bool { return true }

type jobFixture struct {
	clock   *fakeClock
	stores  store.StoreSet
	users   *store.MemoryDirectory
	cases   *store.MemoryCaseStore
	tickets *store.MemoryTicketStore
	stock   *store.MemoryStockStore
	pusher  *recordingPusher
	jobs    *JobSet
}

func newJobFixture(t *testing.T, at time.Time) *jobFixture {
	t.Helper()
	clock := newFakeClock(at)
	users := store.NewMemoryDirectory()
	cases := store.NewMemoryCaseStore()
	tickets := store.NewMemoryTicketStore()
	tickets.SetNow(clock.Now)
	stock := store.NewMemoryStockStore()
	stores := store.StoreSet{
		Notifications: store.NewMemoryNotificationStore(),
		Users:         users,
		Cases:         cases,
		Tickets:       tickets,
		Stock:         stock,
	}
	pusher := newRecordingPusher()
	dispatcher := dispatch.New(stores, pusher, quietLogger(), dispatch.WithNow(clock.Now))
	cfg := config.Default().Scheduler
	return &jobFixture{
		clock:   clock,
		stores:  stores,
		users:   users,
		cases:   cases,
		tickets: tickets,
		stock:   stock,
		pusher:  pusher,
		jobs:    NewJobSet(cfg, stores, dispatcher, quietLogger(), clock.Now),
	}
}

func (f *jobFixture) putUser(id string, role models.Role, locationID string) {
	f.users.Put(&models.User{ID: id, Role: role, LocationID: locationID, Active: true})
}

func (f *jobFixture) unread(t *testing.T, userID string) int {
	t.Helper()
	count, err := f.stores.Notifications.UnreadCount(context.Background(), userID)
	if err != nil {
		t.Fatalf("UnreadCount(%s) error = %v", userID, err)
	}
	return count
}

func TestRegisterAll(t *testing.T) {
	f := newJobFixture(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	r := testRegistry(f.clock)
	if err := f.jobs.RegisterAll(r); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	statuses := r.Jobs()
	want := []string{JobAging, JobLowStock, JobOverdue, JobWarranty}
	if len(statuses) != len(want) {
		t.Fatalf("registered %d jobs, want %d", len(statuses), len(want))
	}
	for i, name := range want {
		if statuses[i].Name != name {
			t.Errorf("job[%d] = %s, want %s", i, statuses[i].Name, name)
		}
	}
}

func TestAgingFor(t *testing.T) {
	f := newJobFixture(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	// Medium priority carries a 24h window by default.
	tests := []struct {
		age    time.Duration
		want   models.AgingStatus
		breach bool
	}{
		{1 * time.Hour, models.AgingGreen, false},
		{11 * time.Hour, models.AgingGreen, false},
		{12 * time.Hour, models.AgingYellow, false},
		{18 * time.Hour, models.AgingOrange, false},
		{24 * time.Hour, models.AgingRed, true},
		{90 * time.Hour, models.AgingRed, true},
	}
	for _, tt := range tests {
		aging, breach := f.jobs.agingFor(models.PriorityMedium, tt.age)
		if aging != tt.want || breach != tt.breach {
			t.Errorf("agingFor(medium, %v) = %s/%v, want %s/%v", tt.age, aging, breach, tt.want, tt.breach)
		}
	}

	// Unknown priorities stay green rather than guessing a window.
	if aging, breach := f.jobs.agingFor(models.Priority("odd"), 500*time.Hour); aging != models.AgingGreen || breach {
		t.Errorf("agingFor(odd) = %s/%v", aging, breach)
	}
}

func TestOverdueLifecycle(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, start)
	f.putUser("creator", models.RoleTechnician, "loc1")
	f.putUser("tech", models.RoleTechnician, "loc1")
	f.putUser("sup", models.RoleSupervisor, "loc1")
	f.putUser("mgr", models.RoleManager, "loc1")
	f.putUser("admin", models.RoleAdmin, "loc2")
	f.cases.Put(&models.Case{
		ID: "c1", Title: "Pump failure", Status: "open",
		Priority: models.PriorityMedium, CreatedBy: "creator", AssignedTo: "tech",
		LocationID: "loc1", CreatedAt: start, AgingStatus: models.AgingGreen,
	})
	recipients := []string{"creator", "tech", "sup", "mgr", "admin"}

	// Half the window gone: severity moves, nothing fans out.
	f.clock.advance(12 * time.Hour)
	if err := f.jobs.RunAging(ctx); err != nil {
		t.Fatalf("RunAging() error = %v", err)
	}
	c, _ := f.cases.Get(ctx, "c1")
	if c.AgingStatus != models.AgingYellow || c.SLABreach {
		t.Fatalf("after 12h: %s/%v", c.AgingStatus, c.SLABreach)
	}
	for _, id := range recipients {
		if got := f.unread(t, id); got != 0 {
			t.Errorf("%s notified during aging pass: %d rows", id, got)
		}
	}

	// Window exceeded: breach flips, then the overdue pass fans out once.
	f.clock.advance(13 * time.Hour)
	if err := f.jobs.RunAging(ctx); err != nil {
		t.Fatalf("RunAging() error = %v", err)
	}
	c, _ = f.cases.Get(ctx, "c1")
	if c.AgingStatus != models.AgingRed || !c.SLABreach {
		t.Fatalf("after 25h: %s/%v", c.AgingStatus, c.SLABreach)
	}

	if err := f.jobs.RunOverdue(ctx); err != nil {
		t.Fatalf("RunOverdue() error = %v", err)
	}
	for _, id := range recipients {
		if got := f.unread(t, id); got != 1 {
			t.Errorf("%s has %d rows after overdue pass, want 1", id, got)
		}
	}
	c, _ = f.cases.Get(ctx, "c1")
	if c.OverdueNotifiedAt == nil {
		t.Fatal("overdue marker not set")
	}

	// Later runs with no state change stay quiet.
	f.clock.advance(6 * time.Hour)
	if err := f.jobs.RunAging(ctx); err != nil {
		t.Fatalf("RunAging() rerun error = %v", err)
	}
	if err := f.jobs.RunOverdue(ctx); err != nil {
		t.Fatalf("RunOverdue() rerun error = %v", err)
	}
	for _, id := range recipients {
		if got := f.unread(t, id); got != 1 {
			t.Errorf("%s has %d rows after rerun, want 1", id, got)
		}
	}
}

func TestWarrantyBands(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, start)
	f.putUser("mgr", models.RoleManager, "loc1")
	f.putUser("sup", models.RoleSupervisor, "loc1")
	f.putUser("tech", models.RoleTechnician, "loc1")
	expiry := start.Add(20 * 24 * time.Hour)
	f.tickets.Put(&models.Ticket{
		ID: "t1", Title: "Compressor", Status: "open",
		LocationID: "loc1", WarrantyExpiry: &expiry,
	})
	recipients := []string{"mgr", "sup", "tech"}

	// 20 days out lands in the 30-day band.
	if err := f.jobs.RunWarranty(ctx); err != nil {
		t.Fatalf("RunWarranty() error = %v", err)
	}
	for _, id := range recipients {
		if got := f.unread(t, id); got != 1 {
			t.Errorf("%s has %d rows, want 1", id, got)
		}
	}
	tk, _ := f.tickets.Get(ctx, "t1")
	if tk.WarrantyBandNotified != 30 {
		t.Fatalf("band recorded = %d, want 30", tk.WarrantyBandNotified)
	}

	list, _, err := f.stores.Notifications.ListForUser(ctx, "mgr", store.ListOptions{})
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if list[0].Data["days_remaining"] != "20" {
		t.Errorf("days_remaining = %q, want 20", list[0].Data["days_remaining"])
	}

	// Same band on a later day stays quiet.
	f.clock.advance(24 * time.Hour)
	if err := f.jobs.RunWarranty(ctx); err != nil {
		t.Fatalf("RunWarranty() rerun error = %v", err)
	}
	if got := f.unread(t, "mgr"); got != 1 {
		t.Errorf("rows after same-band rerun = %d, want 1", got)
	}

	// Crossing into the 15-day band fires again.
	f.clock.advance(5*24*time.Hour + time.Hour)
	if err := f.jobs.RunWarranty(ctx); err != nil {
		t.Fatalf("RunWarranty() band cross error = %v", err)
	}
	for _, id := range recipients {
		if got := f.unread(t, id); got != 2 {
			t.Errorf("%s has %d rows after band cross, want 2", id, got)
		}
	}
	tk, _ = f.tickets.Get(ctx, "t1")
	if tk.WarrantyBandNotified != 15 {
		t.Errorf("band recorded = %d, want 15", tk.WarrantyBandNotified)
	}
	list, _, _ = f.stores.Notifications.ListForUser(ctx, "mgr", store.ListOptions{})
	if list[0].Data["days_remaining"] != "14" {
		t.Errorf("days_remaining = %q, want 14", list[0].Data["days_remaining"])
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		until time.Duration
		want  int
	}{
		{-time.Hour, 0},
		{0, 0},
		{time.Hour, 1},
		{24 * time.Hour, 1},
		{24*time.Hour + time.Minute, 2},
		{20 * 24 * time.Hour, 20},
	}
	for _, tt := range tests {
		if got := daysRemaining(now, now.Add(tt.until)); got != tt.want {
			t.Errorf("daysRemaining(+%v) = %d, want %d", tt.until, got, tt.want)
		}
	}
}

func TestLowStockLifecycle(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newJobFixture(t, start)
	f.putUser("keeper", models.RoleStorekeeper, "loc1")
	f.putUser("mgr", models.RoleManager, "loc1")
	already := start.Add(-7 * 24 * time.Hour)
	f.stock.Put(&models.StockItem{ID: "i1", Name: "Bearing", LocationID: "loc1", Quantity: 1, ReorderLevel: 5})
	f.stock.Put(&models.StockItem{ID: "i2", Name: "Belt", LocationID: "loc1", Quantity: 2, ReorderLevel: 5, LowNotifiedAt: &already})
	f.stock.Put(&models.StockItem{ID: "i3", Name: "Filter", LocationID: "loc1", Quantity: 9, ReorderLevel: 5})

	if err := f.jobs.RunLowStock(ctx); err != nil {
		t.Fatalf("RunLowStock() error = %v", err)
	}
	if got := f.unread(t, "keeper"); got != 1 {
		t.Errorf("storekeeper has %d rows, want 1 (only the newly low item)", got)
	}
	if got := f.unread(t, "mgr"); got != 1 {
		t.Errorf("manager has %d rows, want 1", got)
	}
	item, _ := f.stock.Get(ctx, "i1")
	if item.LowNotifiedAt == nil {
		t.Error("low marker not set")
	}

	summaries := f.pusher.roles[models.RoleStorekeeper]
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	summary, ok := summaries[0].(StockSummary)
	if !ok {
		t.Fatalf("summary type %T", summaries[0])
	}
	if summary.LowItems != 2 || summary.NewlyLow != 1 {
		t.Errorf("summary = %+v, want 2 low, 1 newly low", summary)
	}

	// Rerun: nothing newly low, the summary still goes out.
	if err := f.jobs.RunLowStock(ctx); err != nil {
		t.Fatalf("RunLowStock() rerun error = %v", err)
	}
	if got := f.unread(t, "keeper"); got != 1 {
		t.Errorf("storekeeper has %d rows after rerun, want 1", got)
	}
	summaries = f.pusher.roles[models.RoleStorekeeper]
	if len(summaries) != 2 {
		t.Fatalf("summaries after rerun = %d, want 2", len(summaries))
	}
	if second := summaries[1].(StockSummary); second.NewlyLow != 0 || second.LowItems != 2 {
		t.Errorf("rerun summary = %+v", second)
	}
}
