package giveaway_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/testutil"
)

type harness struct {
	m        *giveaway.Machine
	clock    *testutil.Clock
	dispatch *testutil.RecordingDispatcher
	notifier *testutil.RecordingNotifier
	ledger   *testutil.RecordingLedger
}

func newHarness(t *testing.T, maxEntrants int, picks ...int) *harness {
	t.Helper()
	if len(picks) == 0 {
		picks = []int{0}
	}
	h := &harness{
		clock:    testutil.NewClock(time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)),
		dispatch: &testutil.RecordingDispatcher{},
		notifier: &testutil.RecordingNotifier{},
		ledger:   &testutil.RecordingLedger{},
	}
	h.m = giveaway.New(giveaway.Options{
		Channel:     "testchan",
		MaxEntrants: maxEntrants,
		MaxPerUser:  20,
		KeepWindow:  10 * time.Minute,
		Notifier:    h.notifier,
		Ledger:      h.ledger,
		Dispatcher:  h.dispatch,
		Now:         h.clock.Now,
		Intn:        testutil.Sequence(picks...),
		NewToken:    testutil.Tokens(),
	})
	return h
}

func (h *harness) say(user, text string) {
	h.m.Observe(user, text, h.clock.Now())
	h.clock.Advance(time.Second)
}

func TestKeywordCaseInsensitiveWhileOpen(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	if _, err := h.m.Start(ctx, "yo"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.say("alice", "YO")
	h.say("bob", "  yo  ")
	h.say("carol", "yo yo")

	snap := h.m.Snapshot()
	if snap.EntrantCount != 2 || snap.Entrants[0] != "alice" || snap.Entrants[1] != "bob" {
		t.Fatalf("entrants = %v, want [alice bob]", snap.Entrants)
	}

	if _, err := h.m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.say("dave", "yo")
	if snap := h.m.Snapshot(); snap.EntrantCount != 2 {
		t.Fatalf("entry accepted after stop: %v", snap.Entrants)
	}
}

func TestObserveWhileClosedOnlyRecords(t *testing.T) {
	h := newHarness(t, 10)
	h.say("alice", "hello")

	if snap := h.m.Snapshot(); snap.Open || snap.EntrantCount != 0 {
		t.Fatalf("unexpected state %+v", snap)
	}
	if msgs := h.m.Messages("alice", time.Time{}, 0); len(msgs) != 1 {
		t.Fatalf("messages = %+v, want one line", msgs)
	}
}

func TestCapacityThroughObserve(t *testing.T) {
	h := newHarness(t, 2)
	h.m.Start(context.Background(), "enter")

	h.say("alice", "enter")
	h.say("bob", "enter")
	h.say("carol", "enter")
	h.say("alice", "enter")

	snap := h.m.Snapshot()
	if snap.EntrantCount != 2 || !snap.Full {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, u := range snap.Entrants {
		if u == "carol" {
			t.Fatal("carol admitted past capacity")
		}
	}
}

func TestStartResetsRound(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	h.m.Start(ctx, "one")
	h.say("alice", "one")
	h.m.Roll(ctx)

	snap, err := h.m.Start(ctx, "two")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.EntrantCount != 0 || snap.Pending != nil || snap.Keyword != "two" || !snap.Open {
		t.Fatalf("snapshot after restart = %+v", snap)
	}
	if msgs := h.m.Messages("alice", time.Time{}, 0); len(msgs) != 1 {
		t.Fatalf("message buffer cleared by start: %+v", msgs)
	}
}

func TestStartRejectsBlankKeyword(t *testing.T) {
	h := newHarness(t, 10)
	if _, err := h.m.Start(context.Background(), "   "); !errors.Is(err, giveaway.ErrEmptyKeyword) {
		t.Fatalf("err = %v, want ErrEmptyKeyword", err)
	}
	if h.m.Snapshot().Open {
		t.Fatal("blank keyword opened a round")
	}
	if n := len(h.dispatch.Tasks()); n != 0 {
		t.Fatalf("rejected start dispatched %d tasks", n)
	}
}

func TestStopWhenClosed(t *testing.T) {
	h := newHarness(t, 10)
	if _, err := h.m.Stop(context.Background()); !errors.Is(err, giveaway.ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
	if n := len(h.dispatch.Tasks()); n != 0 {
		t.Fatalf("rejected stop dispatched %d tasks", n)
	}
}

func TestStopClearsPending(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.m.Roll(ctx)

	snap, err := h.m.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if snap.Pending != nil || snap.Open {
		t.Fatalf("snapshot after stop = %+v", snap)
	}
}

func TestRollPicksWithFreshTokens(t *testing.T) {
	h := newHarness(t, 10, 1, 0, 1)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.say("bob", "go")

	r1 := h.m.Roll(ctx)
	if r1.Winner != "bob" || r1.RoundToken != "tok-1" || r1.Entrants != 2 {
		t.Fatalf("roll = %+v", r1)
	}
	r2 := h.m.Reroll(ctx)
	if r2.Winner != "alice" || r2.RoundToken != "tok-2" {
		t.Fatalf("reroll = %+v", r2)
	}
	r3 := h.m.Reroll(ctx)
	if r3.Winner != "bob" || r3.RoundToken == r1.RoundToken {
		t.Fatalf("reroll reused token or excluded prior winner: %+v", r3)
	}

	p := h.m.Snapshot().Pending
	if p == nil || p.User != "bob" || p.RoundToken != "tok-3" {
		t.Fatalf("pending = %+v", p)
	}
}

func TestRollWithoutEntrants(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.m.Start(ctx, "go")

	res := h.m.Roll(ctx)
	if res.Winner != "" || res.RoundToken != "" || res.Entrants != 0 {
		t.Fatalf("roll = %+v, want empty", res)
	}
	if h.m.Snapshot().Pending != nil {
		t.Fatal("pending set without entrants")
	}
}

func TestRollAfterStopUsesFrozenEntrants(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.m.Stop(ctx)

	if res := h.m.Roll(ctx); res.Winner != "alice" {
		t.Fatalf("roll after stop = %+v", res)
	}
}

func TestCancelIdempotent(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.m.Roll(ctx)

	if snap := h.m.Cancel(ctx); snap.Pending != nil {
		t.Fatal("pending survived cancel")
	}
	if snap := h.m.Cancel(ctx); snap.Pending != nil {
		t.Fatal("second cancel changed state")
	}
}

func TestRollConfirmFlow(t *testing.T) {
	h := newHarness(t, 10, 0)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.say("bob", "go")
	h.say("alice", "thanks!")

	roll := h.m.Roll(ctx)
	if roll.Winner != "alice" {
		t.Fatalf("roll = %+v", roll)
	}

	res, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Amount: 10, Mod: "mod1"})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Winner != "alice" || res.Total != 10 || res.Deduped || res.RoundToken != roll.RoundToken {
		t.Fatalf("confirm = %+v", res)
	}
	if len(res.Messages) != 2 || res.Messages[0].Text != "go" || res.Messages[1].Text != "thanks!" {
		t.Fatalf("messages = %+v", res.Messages)
	}

	if _, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Amount: 10}); !errors.Is(err, giveaway.ErrNoWinnerToConfirm) {
		t.Fatalf("second confirm err = %v, want ErrNoWinnerToConfirm", err)
	}
	if got := h.m.SessionTotal(); got != 10 {
		t.Fatalf("session total = %v, want 10", got)
	}

	snap := h.m.Snapshot()
	if snap.Pending != nil {
		t.Fatal("pending survived confirm")
	}
	if len(snap.History) != 1 || snap.History[0].Winner != "alice" || snap.History[0].Mod != "mod1" {
		t.Fatalf("history = %+v", snap.History)
	}

	h.dispatch.RunAll()
	recs := h.ledger.Records()
	if len(recs) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Channel != "testchan" || rec.Winner != "alice" || rec.Amount != 10 || rec.Mod != "mod1" || len(rec.WinnerMsgs) != 2 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestConfirmExplicitWinnerWithoutPending(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	res, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Winner: "zed", Amount: 5})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.RoundToken != "manual:zed" || res.Total != 5 {
		t.Fatalf("confirm = %+v", res)
	}

	// same manual winner again dedupes against the derived token
	res, err = h.m.Confirm(ctx, giveaway.ConfirmRequest{Winner: "zed", Amount: 5})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !res.Deduped || res.Total != 5 {
		t.Fatalf("second manual confirm = %+v, want deduped total 5", res)
	}
	if n := len(h.m.Snapshot().History); n != 2 {
		t.Fatalf("history len = %d, want 2", n)
	}
}

func TestConfirmExplicitWinnerUsesPendingToken(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	roll := h.m.Roll(ctx)

	res, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Winner: "bob", Amount: 3})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Winner != "bob" || res.RoundToken != roll.RoundToken {
		t.Fatalf("confirm = %+v, want bob with %s", res, roll.RoundToken)
	}
}

func TestConfirmInvalidAmount(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.m.Roll(ctx)
	before := len(h.dispatch.Tasks())

	for _, v := range []float64{math.NaN(), math.Inf(1)} {
		if _, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Amount: v}); !errors.Is(err, giveaway.ErrInvalidAmount) {
			t.Fatalf("Confirm(%v) err = %v, want ErrInvalidAmount", v, err)
		}
	}
	snap := h.m.Snapshot()
	if snap.Pending == nil || len(snap.History) != 0 || snap.SessionTotal != 0 {
		t.Fatalf("rejected confirm mutated state: %+v", snap)
	}
	if after := len(h.dispatch.Tasks()); after != before {
		t.Fatalf("rejected confirm dispatched %d tasks", after-before)
	}
}

func TestConfirmAttachesAtMostTenMessages(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		h.say("alice", fmt.Sprintf("line %d", i))
	}
	res, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Winner: "alice", Amount: 1})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if len(res.Messages) != giveaway.DefaultWinnerMessages {
		t.Fatalf("messages = %d, want %d", len(res.Messages), giveaway.DefaultWinnerMessages)
	}
	if res.Messages[0].Text != "line 5" || res.Messages[9].Text != "line 14" {
		t.Fatalf("messages not newest in chronological order: %+v", res.Messages)
	}
}

func TestHistoryCapAcrossConfirms(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	for i := 0; i < 51; i++ {
		if _, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Winner: fmt.Sprintf("user%d", i), Amount: 1}); err != nil {
			t.Fatalf("Confirm %d: %v", i, err)
		}
	}
	hist := h.m.Snapshot().History
	if len(hist) != 50 {
		t.Fatalf("history len = %d, want 50", len(hist))
	}
	if hist[0].Winner != "user50" || hist[49].Winner != "user1" {
		t.Fatalf("history order wrong: first=%s last=%s", hist[0].Winner, hist[49].Winner)
	}
	if got := h.m.SessionTotal(); got != 51 {
		t.Fatalf("session total = %v, want 51", got)
	}
}

func TestNotificationsDispatchedNotAwaited(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.m.Roll(ctx)
	h.m.Reroll(ctx)
	h.m.Cancel(ctx)
	h.m.Roll(ctx)
	h.m.Confirm(ctx, giveaway.ConfirmRequest{Amount: 2})
	h.m.Stop(ctx)

	// nothing runs until the dispatcher does
	if n := len(h.notifier.Texts()); n != 0 {
		t.Fatalf("notifier called synchronously %d times", n)
	}
	want := []string{"notify", "notify", "notify", "notify", "ledger", "notify", "notify"}
	got := h.dispatch.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("dispatched = %v, want %v", got, want)
	}

	h.dispatch.RunAll()
	texts := h.notifier.Texts()
	if len(texts) != 6 {
		t.Fatalf("notifications = %d, want 6: %v", len(texts), texts)
	}
	if !strings.Contains(texts[0], "go") {
		t.Errorf("start notification %q lacks keyword", texts[0])
	}
}

func TestCollaboratorFailuresDoNotRollBack(t *testing.T) {
	h := newHarness(t, 10)
	h.notifier.Err = errors.New("irc down")
	h.ledger.Err = errors.New("webhook down")
	ctx := context.Background()

	h.m.Start(ctx, "go")
	h.say("alice", "go")
	h.m.Roll(ctx)
	res, err := h.m.Confirm(ctx, giveaway.ConfirmRequest{Amount: 4})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	h.dispatch.RunAll()

	if res.Total != 4 || h.m.SessionTotal() != 4 {
		t.Fatalf("total rolled back: %+v", res)
	}
	if len(h.m.Snapshot().History) != 1 {
		t.Fatal("history rolled back")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	h := newHarness(t, 10)
	ch, cancel := h.m.Subscribe()
	defer cancel()

	h.m.Start(context.Background(), "go")
	select {
	case snap := <-ch:
		if !snap.Open || snap.Keyword != "go" {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	h.say("alice", "go")
	select {
	case snap := <-ch:
		if snap.EntrantCount != 1 {
			t.Fatalf("snapshot = %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published for entry")
	}

	cancel()
	cancel()
}

func TestRepeatEntryPublishesNothing(t *testing.T) {
	h := newHarness(t, 1)
	ch, cancel := h.m.Subscribe()
	defer cancel()

	h.m.Start(context.Background(), "go")
	<-ch
	h.say("alice", "go")
	<-ch

	h.say("alice", "GO")
	h.say("bob", "go")
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
	if snap := h.m.Snapshot(); snap.EntrantCount != 1 || !snap.Full {
		t.Fatalf("snapshot = %+v, want alice only and full", snap)
	}
}

func TestConcurrentEventsAndCommands(t *testing.T) {
	h := newHarness(t, 50)
	ctx := context.Background()
	h.m.Start(ctx, "go")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.m.Observe(fmt.Sprintf("user%d", (w*200+i)%120), "go", h.clock.Now())
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			h.m.Roll(ctx)
			h.m.Confirm(ctx, giveaway.ConfirmRequest{Amount: 1})
		}
	}()
	wg.Wait()

	snap := h.m.Snapshot()
	if snap.EntrantCount > 50 || len(snap.Entrants) != snap.EntrantCount {
		t.Fatalf("entrants = %d (list %d), cap 50", snap.EntrantCount, len(snap.Entrants))
	}
	seen := map[string]bool{}
	for _, u := range snap.Entrants {
		if seen[u] {
			t.Fatalf("duplicate entrant %s", u)
		}
		seen[u] = true
	}
	if int(snap.SessionTotal) > 50 {
		t.Fatalf("session total = %v exceeds confirms", snap.SessionTotal)
	}
}

func TestMessagesSince(t *testing.T) {
	h := newHarness(t, 10)
	h.say("alice", "a")
	mark := h.clock.Now()
	h.say("alice", "b")
	h.say("alice", "c")

	got := h.m.Messages("alice", mark, 0)
	if len(got) != 2 || got[0].Text != "b" {
		t.Fatalf("messages since = %+v", got)
	}
}

func TestPrune(t *testing.T) {
	h := newHarness(t, 10)
	h.say("alice", "a")
	h.clock.Advance(11 * time.Minute)
	if n := h.m.Prune(); n != 0 {
		t.Fatalf("Prune = %d, want 0", n)
	}
}

func TestJanitorPrunesAndStops(t *testing.T) {
	h := newHarness(t, 10)
	h.say("alice", "hello")
	h.clock.Advance(time.Hour)
	if h.m.TrackedUsers() != 1 {
		t.Fatalf("TrackedUsers = %d before prune, want 1", h.m.TrackedUsers())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		giveaway.StartJanitor(ctx, h.m, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for h.m.TrackedUsers() != 0 {
		select {
		case <-deadline:
			t.Fatal("janitor never pruned")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
