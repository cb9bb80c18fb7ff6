package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRegistry keeps the real ticker out of the way so tests drive time
// through Tick with the fake clock.
func testRegistry(clock *fakeClock) *Registry {
	return NewRegistry(quietLogger(), WithNow(clock.Now), WithTickInterval(time.Hour))
}

func TestRegisterValidation(t *testing.T) {
	r := testRegistry(newFakeClock(time.Now()))
	noop := func(context.Context) error { return nil }

	if err := r.Register("a", "@every 1m", noop); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("a", "@every 1m", noop); err == nil {
		t.Error("duplicate Register() succeeded")
	}
	if err := r.Register("b", "not-a-schedule", noop); err == nil {
		t.Error("Register() accepted an invalid schedule")
	}
	if err := r.Register("c", "", noop); err == nil {
		t.Error("Register() accepted an empty schedule")
	}
}

func TestTickRunsDueJobs(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := testRegistry(clock)
	var calls atomic.Int32
	if err := r.Register("a", "@every 1m", func(context.Context) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r.Start()
	defer r.Stop()

	if n := r.Tick(context.Background()); n != 0 {
		t.Errorf("Tick() before due = %d launches, want 0", n)
	}

	clock.advance(61 * time.Second)
	if n := r.Tick(context.Background()); n != 1 {
		t.Errorf("Tick() at due time = %d launches, want 1", n)
	}
	r.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("job ran %d times, want 1", got)
	}

	// Cadence advanced at launch; the same instant is not due again.
	if n := r.Tick(context.Background()); n != 0 {
		t.Errorf("Tick() repeat = %d launches, want 0", n)
	}

	clock.advance(61 * time.Second)
	if n := r.Tick(context.Background()); n != 1 {
		t.Errorf("Tick() next period = %d launches, want 1", n)
	}
	r.Wait()
	if got := calls.Load(); got != 2 {
		t.Errorf("job ran %d times, want 2", got)
	}
}

func TestTickSkipsRunningJob(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := testRegistry(clock)
	release := make(chan struct{})
	var calls atomic.Int32
	if err := r.Register("slow", "@every 1m", func(context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r.Start()
	defer r.Stop()

	clock.advance(61 * time.Second)
	if n := r.Tick(context.Background()); n != 1 {
		t.Fatalf("first Tick() = %d launches, want 1", n)
	}

	// The first run is still in flight; a due tick must not overlap it.
	clock.advance(2 * time.Minute)
	if n := r.Tick(context.Background()); n != 0 {
		t.Errorf("overlapping Tick() = %d launches, want 0", n)
	}

	close(release)
	r.Wait()
	if n := r.Tick(context.Background()); n != 1 {
		t.Errorf("Tick() after completion = %d launches, want 1", n)
	}
	r.Wait()
	if got := calls.Load(); got != 2 {
		t.Errorf("job ran %d times, want 2", got)
	}
}

func TestRunNow(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := testRegistry(clock)
	jobErr := errors.New("boom")
	failing := true
	if err := r.Register("a", "0 8 * * *", func(context.Context) error {
		if failing {
			return jobErr
		}
		return nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.RunNow(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(missing) error = %v, want ErrJobNotFound", err)
	}

	if err := r.RunNow(context.Background(), "a"); !errors.Is(err, jobErr) {
		t.Errorf("RunNow() error = %v, want job error", err)
	}
	status := r.Jobs()[0]
	if status.LastError == "" {
		t.Error("LastError not recorded after failed run")
	}
	if !status.LastRun.Equal(clock.Now()) {
		t.Errorf("LastRun = %v, want %v", status.LastRun, clock.Now())
	}

	failing = false
	if err := r.RunNow(context.Background(), "a"); err != nil {
		t.Errorf("RunNow() error = %v", err)
	}
	if status := r.Jobs()[0]; status.LastError != "" {
		t.Errorf("LastError not cleared after success: %q", status.LastError)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := testRegistry(clock)
	if err := r.Register("a", "@every 1h", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if r.Started() {
		t.Fatal("Started() before Start")
	}
	r.Start()
	r.Start()
	if !r.Started() {
		t.Fatal("Started() false after Start")
	}
	if next := r.Jobs()[0].NextRun; next.IsZero() {
		t.Error("NextRun not armed by Start")
	}

	r.Stop()
	r.Stop()
	if r.Started() {
		t.Error("Started() true after Stop")
	}
	if next := r.Jobs()[0].NextRun; !next.IsZero() {
		t.Errorf("NextRun = %v after Stop, want zero", next)
	}
}

func TestScheduleNext(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	every, err := NewSchedule("@every 1h")
	if err != nil {
		t.Fatalf("NewSchedule(@every 1h) error = %v", err)
	}
	if next := every.Next(base); !next.Equal(base.Add(time.Hour)) {
		t.Errorf("@every 1h next = %v", next)
	}

	daily, err := NewSchedule("0 8 * * *")
	if err != nil {
		t.Fatalf("NewSchedule(daily) error = %v", err)
	}
	want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if next := daily.Next(base); !next.Equal(want) {
		t.Errorf("daily next = %v, want %v", next, want)
	}
	if daily.String() != "0 8 * * *" {
		t.Errorf("String() = %q", daily.String())
	}
}
