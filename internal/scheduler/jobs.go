package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/haasonsaas/pulse/internal/config"
	"github.com/haasonsaas/pulse/internal/dispatch"
	"github.com/haasonsaas/pulse/internal/store"
	"github.com/haasonsaas/pulse/pkg/models"
)

// Job names used on the control surface.
const (
	JobAging    = "aging"
	JobOverdue  = "overdue"
	JobWarranty = "warranty"
	JobLowStock = "lowstock"
)

// Notifier is the dispatch surface the jobs need.
type Notifier interface {
	Dispatch(ctx context.Context, ev dispatch.Event) error
	BroadcastSummary(role models.Role, payload any)
}

// StockSummary is the aggregate payload of the weekly low-stock
// broadcast. Realtime-only; never persisted.
type StockSummary struct {
	Type        string    `json:"type"`
	LowItems    int       `json:"low_items"`
	NewlyLow    int       `json:"newly_low"`
	GeneratedAt time.Time `json:"generated_at"`
}

// JobSet builds the standard job bodies over the stores and dispatcher.
type JobSet struct {
	cfg      config.SchedulerConfig
	stores   store.StoreSet
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewJobSet creates the job builder. A nil now defaults to time.Now.
func NewJobSet(cfg config.SchedulerConfig, stores store.StoreSet, notifier Notifier, logger *slog.Logger, now func() time.Time) *JobSet {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &JobSet{
		cfg:      cfg,
		stores:   stores,
		notifier: notifier,
		logger:   logger.With("component", "jobs"),
		now:      now,
	}
}

// RegisterAll registers the four standard jobs with their configured
// cadences.
func (j *JobSet) RegisterAll(registry *Registry) error {
	entries := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{JobAging, j.cfg.AgingCadence, j.RunAging},
		{JobOverdue, j.cfg.OverdueCadence, j.RunOverdue},
		{JobWarranty, j.cfg.WarrantyCadence, j.RunWarranty},
		{JobLowStock, j.cfg.LowStockCadence, j.RunLowStock},
	}
	for _, e := range entries {
		if err := registry.Register(e.name, e.spec, e.run); err != nil {
			return err
		}
	}
	return nil
}

// RunAging recomputes AgingStatus and SLABreach for every open case.
// Recomputation is idempotent and dispatches nothing: the persisted
// flags are the authoritative state the overdue fan-out reads.
func (j *JobSet) RunAging(ctx context.Context) error {
	cases, err := j.stores.Cases.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open cases: %w", err)
	}

	now := j.now()
	failed := 0
	for _, c := range cases {
		aging, breach := j.agingFor(c.Priority, now.Sub(c.CreatedAt))
		if aging == c.AgingStatus && breach == c.SLABreach {
			continue
		}
		if err := j.stores.Cases.UpdateAging(ctx, c.ID, aging, breach); err != nil {
			j.logger.Error("aging update failed", "case_id", c.ID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(cases))
	}
	return nil
}

// RunOverdue dispatches one case_overdue notice per breached case that
// has not been notified yet, then sets the marker. A run with no state
// change since the last one dispatches nothing.
func (j *JobSet) RunOverdue(ctx context.Context) error {
	cases, err := j.stores.Cases.ListOverdueUnnotified(ctx)
	if err != nil {
		return fmt.Errorf("list overdue cases: %w", err)
	}

	failed := 0
	for _, c := range cases {
		ev := dispatch.Event{
			Type:   models.TypeCaseOverdue,
			Entity: models.EntityRef{Kind: models.EntityCase, ID: c.ID},
			Extra:  map[string]string{"priority": string(c.Priority)},
		}
		if err := j.notifier.Dispatch(ctx, ev); err != nil {
			j.logger.Error("overdue dispatch failed", "case_id", c.ID, "error", err)
			failed++
			continue
		}
		if err := j.stores.Cases.MarkOverdueNotified(ctx, c.ID, j.now()); err != nil {
			j.logger.Error("overdue marker failed", "case_id", c.ID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d overdue cases failed", failed, len(cases))
	}
	return nil
}

// RunWarranty dispatches tiered warranty-expiry notices. A ticket is
// notified when it enters a band closer than the one last recorded, so
// each band fires at most once per ticket.
func (j *JobSet) RunWarranty(ctx context.Context) error {
	bands := j.warrantyBands()
	if len(bands) == 0 {
		return nil
	}
	widest := bands[len(bands)-1]

	tickets, err := j.stores.Tickets.ListWarrantyExpiringWithin(ctx, widest)
	if err != nil {
		return fmt.Errorf("list expiring tickets: %w", err)
	}

	now := j.now()
	failed := 0
	for _, t := range tickets {
		if t.WarrantyExpiry == nil {
			continue
		}
		remaining := daysRemaining(now, *t.WarrantyExpiry)
		band, ok := bandFor(bands, remaining)
		if !ok {
			continue
		}
		if t.WarrantyBandNotified != 0 && band >= t.WarrantyBandNotified {
			continue
		}
		ev := dispatch.Event{
			Type:   models.TypeTicketWarrantyExpiring,
			Entity: models.EntityRef{Kind: models.EntityTicket, ID: t.ID},
			Extra:  map[string]string{"days_remaining": strconv.Itoa(remaining)},
		}
		if err := j.notifier.Dispatch(ctx, ev); err != nil {
			j.logger.Error("warranty dispatch failed", "ticket_id", t.ID, "error", err)
			failed++
			continue
		}
		if err := j.stores.Tickets.SetWarrantyBandNotified(ctx, t.ID, band); err != nil {
			j.logger.Error("warranty marker failed", "ticket_id", t.ID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tickets failed", failed, len(tickets))
	}
	return nil
}

// RunLowStock dispatches one stock_low notice per newly low item, sets
// its marker, and pushes one aggregate summary to the storekeeper room.
func (j *JobSet) RunLowStock(ctx context.Context) error {
	items, err := j.stores.Stock.ListBelowReorder(ctx)
	if err != nil {
		return fmt.Errorf("list low stock: %w", err)
	}

	newlyLow := 0
	failed := 0
	for _, item := range items {
		if item.LowNotifiedAt != nil {
			continue
		}
		ev := dispatch.Event{
			Type:   models.TypeStockLow,
			Entity: models.EntityRef{Kind: models.EntityStock, ID: item.ID},
			Extra: map[string]string{
				"quantity":      strconv.Itoa(item.Quantity),
				"reorder_level": strconv.Itoa(item.ReorderLevel),
			},
		}
		if err := j.notifier.Dispatch(ctx, ev); err != nil {
			j.logger.Error("low stock dispatch failed", "item_id", item.ID, "error", err)
			failed++
			continue
		}
		if err := j.stores.Stock.MarkLowNotified(ctx, item.ID, j.now()); err != nil {
			j.logger.Error("low stock marker failed", "item_id", item.ID, "error", err)
			failed++
			continue
		}
		newlyLow++
	}

	j.notifier.BroadcastSummary(models.RoleStorekeeper, StockSummary{
		Type:        "stock_summary",
		LowItems:    len(items),
		NewlyLow:    newlyLow,
		GeneratedAt: j.now(),
	})

	if failed > 0 {
		return fmt.Errorf("%d of %d low items failed", failed, len(items))
	}
	return nil
}

// agingFor maps elapsed age against the priority's SLA window to a
// severity color. Crossing the window is an SLA breach.
func (j *JobSet) agingFor(priority models.Priority, age time.Duration) (models.AgingStatus, bool) {
	window, ok := j.cfg.SLAWindows[priority]
	if !ok || window <= 0 {
		return models.AgingGreen, false
	}
	switch {
	case age >= window:
		return models.AgingRed, true
	case age >= window*3/4:
		return models.AgingOrange, false
	case age >= window/2:
		return models.AgingYellow, false
	default:
		return models.AgingGreen, false
	}
}

// warrantyBands returns the configured day bands sorted ascending,
// closest band first.
func (j *JobSet) warrantyBands() []int {
	bands := make([]int, 0, len(j.cfg.WarrantyBandsDays))
	for _, b := range j.cfg.WarrantyBandsDays {
		if b > 0 {
			bands = append(bands, b)
		}
	}
	sort.Ints(bands)
	return bands
}

// bandFor returns the tightest band covering the remaining days.
func bandFor(bands []int, remaining int) (int, bool) {
	for _, b := range bands {
		if remaining <= b {
			return b, true
		}
	}
	return 0, false
}

// daysRemaining counts whole days until expiry, rounding partial days
// up so a ticket expiring in 6.5 days is reported as 7.
func daysRemaining(now, expiry time.Time) int {
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) != 0 {
		days++
	}
	return days
}
