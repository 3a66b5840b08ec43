package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autoposter/internal/delivery"
	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/internal/scheduler"
	"autoposter/pkg/logx"
)

type memPersister struct {
	mu    sync.Mutex
	saves int
	last  destination.Document
	err   error
}

func (m *memPersister) Save(_ context.Context, doc destination.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves++
	m.last = doc
	return nil
}

type fixture struct {
	c      *Controller
	store  *destination.Store
	events *eventlog.Log
	saver  *memPersister
	sched  *scheduler.Scheduler
	sent   chan delivery.Request
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := destination.NewStore()
	events := eventlog.New(0)
	sent := make(chan delivery.Request, 16)
	sched := scheduler.New(scheduler.Options{
		Store: store,
		Sender: delivery.SenderFunc(func(_ context.Context, req delivery.Request) (delivery.Result, error) {
			sent <- req
			return delivery.Result{OK: true}, nil
		}),
		Events: events,
		Log:    logx.Nop(),
		Config: scheduler.Config{Tick: time.Hour, StatusLines: 3},
	})
	saver := &memPersister{}
	c := New(Options{Store: store, Scheduler: sched, Events: events, Persister: saver, Log: logx.Nop()})
	t.Cleanup(func() {
		sched.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Drain(ctx)
	})
	return &fixture{c: c, store: store, events: events, saver: saver, sched: sched, sent: sent}
}

func ptr(s string) *string { return &s }

func TestSaveDestinationCoercesInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.store.List()[0].ID

	tests := []struct {
		in   string
		want int
	}{
		{"90", 90},
		{"1h", 3600},
		{"00:15", 900},
		{"whenever", destination.DefaultInterval},
		{"-3", destination.DefaultInterval},
	}
	for _, tt := range tests {
		d, err := f.c.SaveDestination(context.Background(), id, Edit{Interval: ptr(tt.in)})
		if err != nil {
			t.Fatalf("SaveDestination(%q): %v", tt.in, err)
		}
		if d.Interval != tt.want {
			t.Fatalf("interval for %q = %d, want %d", tt.in, d.Interval, tt.want)
		}
	}

	d, err := f.c.SaveDestination(context.Background(), id, Edit{TargetRef: ptr("  123 "), Message: ptr(" hi ")})
	if err != nil {
		t.Fatalf("SaveDestination: %v", err)
	}
	if d.TargetRef != "123" || d.Message != "hi" {
		t.Fatalf("saved = %+v", d)
	}
	if f.saver.saves != len(tests)+1 {
		t.Fatalf("saves = %d, want %d", f.saver.saves, len(tests)+1)
	}

	if _, err := f.c.SaveDestination(context.Background(), "missing", Edit{}); !errors.Is(err, destination.ErrNotFound) {
		t.Fatalf("SaveDestination(missing) = %v", err)
	}
}

func TestAddRemoveKeepsStoreNonEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	first := f.store.List()[0].ID
	second := f.c.AddDestination(context.Background())

	if err := f.c.RemoveDestination(context.Background(), first); err != nil {
		t.Fatalf("Remove(first): %v", err)
	}
	if err := f.c.RemoveDestination(context.Background(), second); err != nil {
		t.Fatalf("Remove(second): %v", err)
	}
	if n := len(f.c.Destinations()); n != 1 {
		t.Fatalf("destinations = %d, want 1", n)
	}
	if err := f.c.RemoveDestination(context.Background(), second); !errors.Is(err, destination.ErrNotFound) {
		t.Fatalf("Remove(again) = %v, want ErrNotFound", err)
	}
	if len(f.saver.last.Destinations) != 1 {
		t.Fatalf("persisted %d destinations, want 1", len(f.saver.last.Destinations))
	}
}

func TestToggleAndTestPost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.store.List()[0].ID
	if _, err := f.c.SaveDestination(context.Background(), id, Edit{TargetRef: ptr("tg:5"), Message: ptr("ping")}); err != nil {
		t.Fatalf("SaveDestination: %v", err)
	}

	if err := f.c.TestPost(id); err != nil {
		t.Fatalf("TestPost: %v", err)
	}
	select {
	case req := <-f.sent:
		if req.TargetRef != "tg:5" || req.Message != "ping" {
			t.Fatalf("sent %+v", req)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("test post not delivered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.sched.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if !f.c.Toggle(context.Background()) || !f.c.Running() {
		t.Fatal("Toggle should start")
	}
	select {
	case <-f.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("start did not fire immediately")
	}
	if f.c.Toggle(context.Background()) || f.c.Running() {
		t.Fatal("Toggle should stop")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.Load(destination.Document{Destinations: []destination.Destination{
		{ID: "aaaa1111"}, {ID: "aaaa2222"}, {ID: "bbbb3333"},
	}})

	tests := []struct {
		ref     string
		want    string
		wantErr error
	}{
		{"aaaa2222", "aaaa2222", nil},
		{"2", "aaaa2222", nil},
		{"bbbb", "bbbb3333", nil},
		{"aaaa", "", ErrAmbiguous},
		{"bb", "", destination.ErrNotFound},
		{"9", "", destination.ErrNotFound},
		{"", "", destination.ErrNotFound},
	}
	for _, tt := range tests {
		got, err := f.c.Resolve(tt.ref)
		if !errors.Is(err, tt.wantErr) || got != tt.want {
			t.Fatalf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.ref, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestClearLogsLeavesMarker(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.c.AddDestination(context.Background())
	f.c.ClearLogs()
	logs := f.c.Logs(0)
	if len(logs) != 1 || logs[0].Message != "Logs cleared" {
		t.Fatalf("logs = %+v", logs)
	}
	if st := f.c.Status(); len(st.Recent) != 1 {
		t.Fatalf("status recent = %+v", st.Recent)
	}
}

func TestPersistFailureIsRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.saver.err = errors.New("disk full")
	f.c.AddDestination(context.Background())

	var warned bool
	for _, r := range f.c.Logs(0) {
		if r.Severity == eventlog.Warning && strings.Contains(r.Message, "disk full") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("persist failure not recorded")
	}
	if err := f.c.Persist(context.Background()); err == nil {
		t.Fatal("Persist err = nil, want disk full")
	}
}

func TestSetCredentialPersists(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.c.SetCredential(context.Background(), " token ")
	if f.saver.last.BotToken != "token" {
		t.Fatalf("persisted token = %q", f.saver.last.BotToken)
	}
}
