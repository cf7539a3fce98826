package testutil

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Halunen/GiveawayTracker/giveaway"
)

// Task is a dispatched unit of work captured by RecordingDispatcher.
type Task struct {
	Name string
	Ctx  context.Context
	Fn   func(ctx context.Context)
}

// RecordingDispatcher captures dispatched tasks without running them. Call
// RunAll to execute what has been captured.
type RecordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
}

// Dispatch records the task.
func (d *RecordingDispatcher) Dispatch(ctx context.Context, name string, fn func(ctx context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, Task{Name: name, Ctx: ctx, Fn: fn})
}

// Tasks returns the captured tasks.
func (d *RecordingDispatcher) Tasks() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Task(nil), d.tasks...)
}

// Names returns the captured task names in dispatch order.
func (d *RecordingDispatcher) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.tasks))
	for i, t := range d.tasks {
		out[i] = t.Name
	}
	return out
}

// RunAll runs and clears the captured tasks in dispatch order.
func (d *RecordingDispatcher) RunAll() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = nil
	d.mu.Unlock()
	for _, t := range tasks {
		t.Fn(context.WithoutCancel(t.Ctx))
	}
}

// SyncDispatcher runs tasks inline.
type SyncDispatcher struct{}

// Dispatch runs fn immediately.
func (SyncDispatcher) Dispatch(ctx context.Context, _ string, fn func(ctx context.Context)) {
	fn(context.WithoutCancel(ctx))
}

// RecordingNotifier captures sent texts and fails with Err when set.
type RecordingNotifier struct {
	mu    sync.Mutex
	Err   error
	texts []string
}

// Send records text.
func (n *RecordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.Err
}

// Texts returns every text sent.
func (n *RecordingNotifier) Texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// RecordingLedger captures submitted records and fails with Err when set.
type RecordingLedger struct {
	mu      sync.Mutex
	Err     error
	records []giveaway.Record
}

// Submit records rec.
func (l *RecordingLedger) Submit(_ context.Context, rec giveaway.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return l.Err
}

// Records returns every submitted record.
func (l *RecordingLedger) Records() []giveaway.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]giveaway.Record(nil), l.records...)
}

// Sequence returns an Intn func that yields picks in order, wrapping around,
// and clamps each to the requested bound.
func Sequence(picks ...int) func(n int) int {
	var mu sync.Mutex
	i := 0
	return func(n int) int {
		mu.Lock()
		defer mu.Unlock()
		p := picks[i%len(picks)]
		i++
		if p >= n {
			p = n - 1
		}
		return p
	}
}

// Tokens returns a NewToken func yielding tok-1, tok-2, ...
func Tokens() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "tok-" + strconv.Itoa(n)
	}
}

// Clock is a manually advanced clock for tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
