package scheduler

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
	"autoposter/pkg/logx"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type call struct {
	req delivery.Request
	at  time.Time
}

// fakeSender records calls. result decides the outcome; gate, when set,
// blocks each send until it is closed. Sends to hang block until their
// context ends.
type fakeSender struct {
	clock  *fakeClock
	mu     sync.Mutex
	calls  []call
	result func(delivery.Request) (delivery.Result, error)
	gate   chan struct{}
	called chan struct{}
	hang   string
}

func (f *fakeSender) Send(ctx context.Context, req delivery.Request) (delivery.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{req: req, at: f.clock.Now()})
	gate, called, hang := f.gate, f.called, f.hang
	f.mu.Unlock()
	if called != nil {
		called <- struct{}{}
	}
	if hang != "" && req.TargetRef == hang {
		<-ctx.Done()
		return delivery.Result{}, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return delivery.Result{}, ctx.Err()
		}
	}
	if f.result != nil {
		return f.result(req)
	}
	return delivery.Result{OK: true, Detail: "ok"}, nil
}

func (f *fakeSender) firesFor(target string) []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for _, c := range f.calls {
		if c.req.TargetRef == target {
			out = append(out, c.at.Sub(t0))
		}
	}
	return out
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	s      *Scheduler
	store  *destination.Store
	clock  *fakeClock
	sender *fakeSender
	events *eventlog.Log
}

func newHarness(t *testing.T, dests ...destination.Destination) *harness {
	t.Helper()
	clock := &fakeClock{t: t0}
	store := destination.NewStore()
	if len(dests) > 0 {
		store.Load(destination.Document{Destinations: dests})
	}
	sender := &fakeSender{clock: clock}
	events := eventlog.New(0)
	s := New(Options{
		Store:  store,
		Sender: sender,
		Events: events,
		Log:    logx.Nop(),
		Config: Config{Tick: time.Hour, SendTimeout: 5 * time.Second, StatusLines: 5},
		Now:    clock.Now,
	})
	t.Cleanup(func() {
		s.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Drain(ctx)
	})
	return &harness{s: s, store: store, clock: clock, sender: sender, events: events}
}

func (h *harness) gen() uint64 {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.gen
}

// at moves the clock to t0+sec, runs one tick and waits for its sends.
func (h *harness) at(sec int) {
	now := t0.Add(time.Duration(sec) * time.Second)
	h.clock.Set(now)
	h.s.tick(h.gen(), now)
	h.s.sends.Wait()
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if !h.s.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	h.s.sends.Wait()
}

func (h *harness) records(sev eventlog.Severity) []eventlog.Record {
	var out []eventlog.Record
	for _, r := range h.events.Recent(0) {
		if r.Severity == sev {
			out = append(out, r)
		}
	}
	return out
}

func dest(id, target string, interval int) destination.Destination {
	return destination.Destination{ID: id, TargetRef: target, Message: "hello", Interval: interval}
}

func secs(ns ...int) []time.Duration {
	out := make([]time.Duration, len(ns))
	for i, n := range ns {
		out[i] = time.Duration(n) * time.Second
	}
	return out
}

func equalDurations(a, b []time.Duration) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestIndependentCadence(t *testing.T) {
	h := newHarness(t, dest("a", "111", 5), dest("b", "222", 9))
	h.start(t)
	for sec := 1; sec <= 27; sec++ {
		h.at(sec)
	}

	if got, want := h.sender.firesFor("111"), secs(0, 5, 10, 15, 20, 25); !equalDurations(got, want) {
		t.Fatalf("A fired at %v, want %v", got, want)
	}
	if got, want := h.sender.firesFor("222"), secs(0, 9, 18, 27); !equalDurations(got, want) {
		t.Fatalf("B fired at %v, want %v", got, want)
	}

	d, _ := h.store.Get("b")
	if !d.LastSentAt.Equal(t0.Add(27 * time.Second)) {
		t.Fatalf("B last sent = %v, want t0+27s", d.LastSentAt)
	}
}

func TestOversizedIntervalDoesNotOverflow(t *testing.T) {
	h := newHarness(t, dest("a", "111", 10_000_000_000))
	h.start(t)
	for sec := 1; sec <= 3; sec++ {
		h.at(sec)
	}
	if got := h.sender.firesFor("111"); !equalDurations(got, secs(0)) {
		t.Fatalf("fired at %v, want only [0s]", got)
	}
	st := h.s.RefreshStatus()
	if want := t0.Add(destination.MaxInterval * time.Second); !st.Entries[0].NextDue.Equal(want) {
		t.Fatalf("next due = %v, want %v", st.Entries[0].NextDue, want)
	}
}

func TestHangingSendDoesNotStallOthers(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60), dest("b", "222", 60))
	h.s.Configure(Config{Tick: time.Hour, SendTimeout: 2 * time.Second, StatusLines: 5})
	h.sender.hang = "111"
	if !h.s.Start(context.Background()) {
		t.Fatal("Start returned false")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if d, _ := h.store.Get("b"); !d.LastSentAt.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("B was not delivered while A hung")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.s.mu.Lock()
	aBusy := h.s.inflight["a"]
	h.s.mu.Unlock()
	if !aBusy {
		t.Fatal("A finished before its send timeout")
	}

	h.s.sends.Wait()
	errs := h.records(eventlog.Error)
	if len(errs) != 1 || errs[0].DestinationID != "a" || !strings.Contains(errs[0].Message, "transport fault") {
		t.Fatalf("error records = %+v", errs)
	}
	if d, _ := h.store.Get("a"); !d.LastSentAt.IsZero() {
		t.Fatalf("A last sent = %v, want never", d.LastSentAt)
	}
	if ok := h.records(eventlog.Success); len(ok) != 1 || ok[0].DestinationID != "b" {
		t.Fatalf("success records = %+v", ok)
	}
}

func TestCancelledStartContextEndsRun(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60))
	ctx, cancel := context.WithCancel(context.Background())
	if !h.s.Start(ctx) {
		t.Fatal("Start returned false")
	}
	h.s.sends.Wait()
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for h.s.Status().Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.s.Status().Running || h.s.Running() {
		t.Fatal("scheduler still reports running after its context ended")
	}

	if !h.s.Start(context.Background()) {
		t.Fatal("Start after cancelled context returned false")
	}
	h.s.sends.Wait()
	if got := h.sender.firesFor("111"); len(got) != 2 {
		t.Fatalf("fires = %v, want 2", got)
	}
}

func TestEmptyMessageNeverReachesSender(t *testing.T) {
	h := newHarness(t, destination.Destination{ID: "x", TargetRef: "abc", Interval: 60})
	h.start(t)

	if n := h.sender.count(); n != 0 {
		t.Fatalf("sender called %d times, want 0", n)
	}
	errs := h.records(eventlog.Error)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "missing message") || errs[0].DestinationID != "x" {
		t.Fatalf("error records = %+v", errs)
	}
	if d, _ := h.store.Get("x"); !d.LastSentAt.IsZero() {
		t.Fatalf("last sent = %v, want never", d.LastSentAt)
	}
	if st := h.s.Status(); st.Severity != eventlog.Error {
		t.Fatalf("status severity = %q, want error", st.Severity)
	}
}

func TestRefusalAdvancesFromAttemptTime(t *testing.T) {
	h := newHarness(t, dest("a", "111", 10))
	h.sender.result = func(delivery.Request) (delivery.Result, error) {
		return delivery.Result{OK: false, Detail: "Missing Access"}, nil
	}
	h.start(t)

	errs := h.records(eventlog.Error)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "Missing Access") {
		t.Fatalf("error records = %+v", errs)
	}
	if strings.Contains(errs[0].Message, "transport fault") {
		t.Fatalf("refusal labelled as fault: %q", errs[0].Message)
	}

	// Late tick: the next due time is measured from this attempt.
	h.at(13)
	if got := h.sender.firesFor("111"); !equalDurations(got, secs(0, 13)) {
		t.Fatalf("fired at %v, want [0s 13s]", got)
	}
	st := h.s.RefreshStatus()
	if want := t0.Add(23 * time.Second); !st.Entries[0].NextDue.Equal(want) {
		t.Fatalf("next due = %v, want %v", st.Entries[0].NextDue, want)
	}
	if d, _ := h.store.Get("a"); !d.LastSentAt.IsZero() {
		t.Fatal("failed attempt must not set last sent")
	}
}

func TestTransportFaultIsLabelled(t *testing.T) {
	h := newHarness(t, dest("a", "111", 10))
	h.sender.result = func(delivery.Request) (delivery.Result, error) {
		return delivery.Result{}, errors.New("dial tcp: connection refused")
	}
	h.start(t)

	errs := h.records(eventlog.Error)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "transport fault: dial tcp") {
		t.Fatalf("error records = %+v", errs)
	}
}

func TestPanickingSenderIsContained(t *testing.T) {
	h := newHarness(t, dest("a", "111", 10))
	h.sender.result = func(delivery.Request) (delivery.Result, error) { panic("boom") }
	h.start(t)

	if errs := h.records(eventlog.Error); len(errs) != 1 || !strings.Contains(errs[0].Message, "panic: boom") {
		t.Fatalf("error records = %+v", errs)
	}
	h.sender.result = nil
	h.at(10)
	if got := h.sender.firesFor("111"); len(got) != 2 {
		t.Fatalf("fires after panic = %v, want 2", got)
	}
}

func TestStopStartDoesNotDuplicateInFlight(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60))
	h.sender.gate = make(chan struct{})
	h.sender.called = make(chan struct{}, 4)

	if !h.s.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	<-h.sender.called

	if !h.s.Stop() {
		t.Fatal("Stop returned false")
	}
	if h.s.Stop() {
		t.Fatal("second Stop returned true")
	}
	if !h.s.Start(context.Background()) {
		t.Fatal("restart returned false")
	}
	if h.s.Start(context.Background()) {
		t.Fatal("Start while running returned true")
	}

	close(h.sender.gate)
	h.s.sends.Wait()

	if n := h.sender.count(); n != 1 {
		t.Fatalf("sender called %d times, want 1", n)
	}
	if ok := h.records(eventlog.Success); len(ok) != 1 {
		t.Fatalf("success records = %d, want 1", len(ok))
	}
	if w := h.records(eventlog.Warning); len(w) != 1 || !strings.Contains(w[0].Message, "in flight") {
		t.Fatalf("warning records = %+v", w)
	}
}

func TestAddAndRemoveWhileRunning(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60))
	h.start(t)

	id := h.store.Add()
	target, msg := "222", "new"
	if err := h.store.Update(id, destination.Patch{TargetRef: &target, Message: &msg}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.at(1)
	if got := h.sender.firesFor("222"); !equalDurations(got, secs(1)) {
		t.Fatalf("new destination fired at %v, want [1s]", got)
	}

	h.store.Remove("a")
	h.at(61)
	if got := h.sender.firesFor("111"); len(got) != 1 {
		t.Fatalf("removed destination fired at %v", got)
	}
	h.s.mu.Lock()
	_, stale := h.s.entries["a"]
	h.s.mu.Unlock()
	if stale {
		t.Fatal("entry for removed destination not dropped")
	}
}

func TestDestinationBecomingSendableFiresNow(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if errs := h.records(eventlog.Error); len(errs) != 1 {
		t.Fatalf("error records = %d, want 1 for the blank default", len(errs))
	}

	id := h.store.List()[0].ID
	target, msg := "333", "hi"
	_ = h.store.Update(id, destination.Patch{TargetRef: &target, Message: &msg})
	h.at(2)
	if got := h.sender.firesFor("333"); !equalDurations(got, secs(2)) {
		t.Fatalf("fired at %v, want [2s]", got)
	}
}

func TestIntervalEditRebasesOnLastAttempt(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60))
	h.start(t)

	iv := 3
	_ = h.store.Update("a", destination.Patch{Interval: &iv})
	h.at(2)
	h.at(3)
	if got := h.sender.firesFor("111"); !equalDurations(got, secs(0, 3)) {
		t.Fatalf("fired at %v, want [0s 3s]", got)
	}
}

func TestTestPost(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60), destination.Destination{ID: "b", TargetRef: "222", Interval: 60})

	if err := h.s.TestPost("a"); err != nil {
		t.Fatalf("TestPost while stopped: %v", err)
	}
	h.s.sends.Wait()
	if h.sender.count() != 1 {
		t.Fatalf("sender calls = %d, want 1", h.sender.count())
	}
	if d, _ := h.store.Get("a"); !d.LastSentAt.Equal(t0) {
		t.Fatalf("last sent = %v, want t0", d.LastSentAt)
	}

	if err := h.s.TestPost("missing"); !errors.Is(err, destination.ErrNotFound) {
		t.Fatalf("TestPost(missing) = %v", err)
	}
	if err := h.s.TestPost("b"); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("TestPost(b) = %v, want ErrIncomplete", err)
	}

	h.sender.gate = make(chan struct{})
	h.sender.called = make(chan struct{}, 1)
	if err := h.s.TestPost("a"); err != nil {
		t.Fatalf("TestPost: %v", err)
	}
	<-h.sender.called
	if err := h.s.TestPost("a"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("TestPost while in flight = %v, want ErrInFlight", err)
	}
	if !h.s.Status().Entries[0].InFlight {
		t.Fatal("status does not show in-flight delivery")
	}
	close(h.sender.gate)
	h.s.sends.Wait()
}

func TestTestPostLeavesScheduleAlone(t *testing.T) {
	h := newHarness(t, dest("a", "111", 60))
	h.start(t)
	before := h.s.RefreshStatus().Entries[0].NextDue

	h.clock.Set(t0.Add(10 * time.Second))
	if err := h.s.TestPost("a"); err != nil {
		t.Fatalf("TestPost: %v", err)
	}
	h.s.sends.Wait()

	if after := h.s.RefreshStatus().Entries[0].NextDue; !after.Equal(before) {
		t.Fatalf("next due moved from %v to %v", before, after)
	}
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t, dest("a", "111", 5), dest("b", "222", 9))
	st := h.s.Status()
	if st.Running || !st.NextDue.IsZero() || len(st.Entries) != 2 {
		t.Fatalf("stopped status = %+v", st)
	}

	h.start(t)
	st = h.s.RefreshStatus()
	if !st.Running {
		t.Fatal("status not running after Start")
	}
	if want := t0.Add(5 * time.Second); !st.NextDue.Equal(want) {
		t.Fatalf("global next due = %v, want %v", st.NextDue, want)
	}
	if st.Until(t0.Add(2*time.Second)) != 3*time.Second {
		t.Fatalf("Until = %v, want 3s", st.Until(t0.Add(2*time.Second)))
	}
	if st.Entries[1].Position != 2 || st.Entries[1].Label != "channel 222" {
		t.Fatalf("entry = %+v", st.Entries[1])
	}
	if len(st.Recent) == 0 || len(st.Recent) > 5 {
		t.Fatalf("recent = %d records, want 1..5", len(st.Recent))
	}
}

func TestNudgeWakesLoop(t *testing.T) {
	h := newHarness(t, dest("a", "111", 3600))
	h.sender.called = make(chan struct{}, 4)
	if !h.s.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	<-h.sender.called

	id := h.store.Add()
	target, msg := "444", "x"
	_ = h.store.Update(id, destination.Patch{TargetRef: &target, Message: &msg})
	h.s.Nudge()

	select {
	case <-h.sender.called:
	case <-time.After(5 * time.Second):
		t.Fatal("nudge did not trigger a tick")
	}
	h.s.sends.Wait()
	if got := h.sender.firesFor("444"); len(got) != 1 {
		t.Fatalf("new destination fires = %v", got)
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    destination.Destination
		want string
	}{
		{destination.Destination{ID: "0123456789", TargetRef: "https://discord.com/api/webhooks/1/secret"}, "webhook 01234567"},
		{destination.Destination{ID: "x", TargetRef: "555"}, "channel 555"},
		{destination.Destination{ID: "x", TargetRef: "tg:-100/4"}, "telegram -100/4"},
		{destination.Destination{ID: "x", TargetRef: "abc"}, "abc"},
		{destination.Destination{ID: "abcdef"}, "destination abcdef"},
	}
	for _, tt := range tests {
		if got := Label(tt.d); got != tt.want {
			t.Fatalf("Label(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
