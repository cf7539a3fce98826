package giveaway

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Halunen/GiveawayTracker/telemetry"
)

const (
	// DefaultMaxEntrants caps a round when Options.MaxEntrants is unset.
	DefaultMaxEntrants = 1000
	// DefaultMaxPerUser caps stored chat lines per user.
	DefaultMaxPerUser = 50
	// DefaultKeepWindow is how long chat lines are kept.
	DefaultKeepWindow = 10 * time.Minute
	// DefaultWinnerMessages is how many recent lines are attached to a confirmed win.
	DefaultWinnerMessages = 10

	manualTokenPrefix = "manual:"
	tracerName        = "giveaway"
)

// Notifier posts a text message to the audience.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Record is what gets submitted to the external ledger for a confirmed win.
type Record struct {
	Channel     string    `json:"channel"`
	Winner      string    `json:"winner"`
	Amount      float64   `json:"amount"`
	WinnerMsgs  []Message `json:"winner_msgs"`
	Mod         string    `json:"mod"`
	RoundToken  string    `json:"round_token"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Ledger records a confirmed win outside the process. Implementations own
// their retry policy.
type Ledger interface {
	Submit(ctx context.Context, rec Record) error
}

// Dispatcher runs fire-and-forget work detached from the caller. Dispatch must
// not block on fn.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, fn func(ctx context.Context))
}

// Options configures a Machine. Zero values fall back to the package defaults;
// nil collaborators become no-ops.
type Options struct {
	Channel        string
	MaxEntrants    int
	MaxPerUser     int
	KeepWindow     time.Duration
	WinnerMessages int
	HistoryLimit   int

	Notifier   Notifier
	Ledger     Ledger
	Dispatcher Dispatcher

	// Now, Intn and NewToken are injectable for deterministic tests.
	Now      func() time.Time
	Intn     func(n int) int
	NewToken func() string
}

// Pending is a drawn winner awaiting confirmation.
type Pending struct {
	User       string    `json:"user"`
	RoundToken string    `json:"round_token"`
	Since      time.Time `json:"since"`
}

// RollResult is the outcome of Roll or Reroll. Winner is empty when there were
// no entrants.
type RollResult struct {
	Winner     string    `json:"winner"`
	RoundToken string    `json:"round_token,omitempty"`
	Since      time.Time `json:"since,omitzero"`
	Entrants   int       `json:"entrants"`
}

// ConfirmRequest carries the operator's confirm input. Winner overrides the
// pending winner when set.
type ConfirmRequest struct {
	Winner string
	Amount float64
	Mod    string
}

// ConfirmResult is the outcome of Confirm.
type ConfirmResult struct {
	Winner     string    `json:"winner"`
	Amount     float64   `json:"amount"`
	RoundToken string    `json:"round_token"`
	Total      float64   `json:"total"`
	Deduped    bool      `json:"deduped"`
	Messages   []Message `json:"messages"`
}

// Snapshot is a read-only view of the machine for dashboards.
type Snapshot struct {
	Open         bool     `json:"open"`
	Keyword      string   `json:"keyword"`
	Entrants     []string `json:"entrants"`
	EntrantCount int      `json:"entrant_count"`
	MaxEntrants  int      `json:"max_entrants"`
	Full         bool     `json:"full"`
	Pending      *Pending `json:"pending"`
	SessionTotal float64  `json:"session_total"`
	History      []Win    `json:"history"`
}

// Machine is the giveaway state machine. Use New to construct one.
type Machine struct {
	mu sync.Mutex

	channel        string
	winnerMessages int

	open     bool
	keyword  string
	entrants *EntrantSet
	pending  *Pending
	history  *History

	messages *MessageStore
	session  *SessionLedger

	notifier   Notifier
	ledger     Ledger
	dispatcher Dispatcher

	now      func() time.Time
	intn     func(n int) int
	newToken func() string

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// New creates a closed Machine with no entrants.
func New(opts Options) *Machine {
	if opts.MaxEntrants <= 0 {
		opts.MaxEntrants = DefaultMaxEntrants
	}
	if opts.MaxPerUser <= 0 {
		opts.MaxPerUser = DefaultMaxPerUser
	}
	if opts.KeepWindow <= 0 {
		opts.KeepWindow = DefaultKeepWindow
	}
	if opts.WinnerMessages <= 0 {
		opts.WinnerMessages = DefaultWinnerMessages
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Intn == nil {
		opts.Intn = rand.IntN
	}
	if opts.NewToken == nil {
		opts.NewToken = func() string { return uuid.New().String() }
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = goDispatcher{}
	}
	return &Machine{
		channel:        opts.Channel,
		winnerMessages: opts.WinnerMessages,
		entrants:       NewEntrantSet(opts.MaxEntrants),
		history:        NewHistory(opts.HistoryLimit),
		messages:       NewMessageStore(opts.MaxPerUser, opts.KeepWindow, opts.Now),
		session:        NewSessionLedger(),
		notifier:       opts.Notifier,
		ledger:         opts.Ledger,
		dispatcher:     opts.Dispatcher,
		now:            opts.Now,
		intn:           opts.Intn,
		newToken:       opts.NewToken,
		subs:           make(map[chan Snapshot]struct{}),
	}
}

// Observe feeds one chat line. The line is always kept in the rolling buffer;
// while a round is open a line equal to the keyword (ignoring case and
// surrounding space) enters its author.
func (m *Machine) Observe(user, text string, at time.Time) {
	if user == "" {
		return
	}
	m.mu.Lock()
	m.messages.Record(user, text, at)
	telemetry.IncChatMessage()

	entered := false
	if m.open && strings.EqualFold(strings.TrimSpace(text), m.keyword) {
		already := m.entrants.Contains(user)
		if m.entrants.Offer(user) {
			entered = !already
			if entered {
				telemetry.IncEntry(true)
			}
		} else {
			telemetry.IncEntry(false)
			slog.Debug("entry rejected: giveaway full", slog.String("user", user), slog.Int("max", m.entrants.Cap()))
		}
	}
	var snap Snapshot
	if entered {
		snap = m.snapshotLocked()
	}
	m.mu.Unlock()

	if entered {
		m.publish(snap)
	}
}

// Start opens a new round for keyword, discarding previous entrants and any
// pending winner.
func (m *Machine) Start(ctx context.Context, keyword string) (Snapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "giveaway.start", attribute.String("keyword", keyword))
	defer span.End()

	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		telemetry.IncCommand("start", "rejected")
		telemetry.RecordError(span, ErrEmptyKeyword)
		return Snapshot{}, ErrEmptyKeyword
	}

	m.mu.Lock()
	m.open = true
	m.keyword = keyword
	m.entrants.Reset()
	m.pending = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	telemetry.IncCommand("start", "ok")
	telemetry.LoggerWithCorr(ctx).Info("giveaway started", slog.String("keyword", keyword), slog.String("component", "giveaway"))
	m.notify(ctx, fmt.Sprintf("Giveaway started! Type %s in chat to enter.", keyword))
	m.publish(snap)
	telemetry.SetSpanSuccess(span)
	return snap, nil
}

// Stop closes the open round and clears any pending winner.
func (m *Machine) Stop(ctx context.Context) (Snapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "giveaway.stop")
	defer span.End()

	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		telemetry.IncCommand("stop", "rejected")
		telemetry.RecordError(span, ErrNotOpen)
		return Snapshot{}, ErrNotOpen
	}
	m.open = false
	m.pending = nil
	count := m.entrants.Len()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	telemetry.IncCommand("stop", "ok")
	telemetry.LoggerWithCorr(ctx).Info("giveaway stopped", slog.Int("entrants", count), slog.String("component", "giveaway"))
	m.notify(ctx, fmt.Sprintf("Giveaway closed with %d entrants.", count))
	m.publish(snap)
	telemetry.SetSpanSuccess(span)
	return snap, nil
}

// Roll draws a winner uniformly from the current entrants and makes it the
// pending winner under a fresh round token. With no entrants the pending
// winner is cleared and the result has an empty Winner.
func (m *Machine) Roll(ctx context.Context) RollResult {
	return m.draw(ctx, "roll")
}

// Reroll is an independent redraw; the previous pending winner may be drawn again.
func (m *Machine) Reroll(ctx context.Context) RollResult {
	return m.draw(ctx, "reroll")
}

func (m *Machine) draw(ctx context.Context, op string) RollResult {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "giveaway."+op)
	defer span.End()

	m.mu.Lock()
	members := m.entrants.Members()
	res := RollResult{Entrants: len(members)}
	if len(members) == 0 {
		m.pending = nil
	} else {
		res.Winner = members[m.intn(len(members))]
		res.RoundToken = m.newToken()
		res.Since = m.now()
		m.pending = &Pending{User: res.Winner, RoundToken: res.RoundToken, Since: res.Since}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	log := telemetry.LoggerWithCorr(ctx)
	if res.Winner == "" {
		telemetry.IncCommand(op, "empty")
		log.Info("giveaway draw with no entrants", slog.String("op", op), slog.String("component", "giveaway"))
		m.notify(ctx, "No entrants to draw from.")
	} else {
		telemetry.IncCommand(op, "ok")
		span.SetAttributes(attribute.String("winner", res.Winner), attribute.String("round_token", res.RoundToken))
		log.Info("giveaway winner drawn", slog.String("op", op), slog.String("winner", res.Winner),
			slog.String("round_token", res.RoundToken), slog.Int("entrants", res.Entrants), slog.String("component", "giveaway"))
		m.notify(ctx, fmt.Sprintf("@%s has been drawn! Waiting for confirmation.", res.Winner))
	}
	m.publish(snap)
	telemetry.SetSpanSuccess(span)
	return res
}

// Cancel clears the pending winner. It is a no-op when there is none.
func (m *Machine) Cancel(ctx context.Context) Snapshot {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "giveaway.cancel")
	defer span.End()

	m.mu.Lock()
	had := m.pending != nil
	m.pending = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	telemetry.IncCommand("cancel", "ok")
	if had {
		telemetry.LoggerWithCorr(ctx).Info("pending winner cancelled", slog.String("component", "giveaway"))
		m.publish(snap)
	}
	telemetry.SetSpanSuccess(span)
	return snap
}

// Confirm settles a win for the explicit winner or, failing that, the pending
// winner. It attaches the winner's recent chat lines, hands the record to the
// ledger, bumps the session total once per round token and records the win in
// history. The pending round token is used whenever a winner is pending, even
// for an explicit winner; otherwise the token is derived from the winner name,
// so two manual confirms of the same user count once.
func (m *Machine) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "giveaway.confirm")
	defer span.End()

	if math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		telemetry.IncCommand("confirm", "rejected")
		telemetry.RecordError(span, ErrInvalidAmount)
		return ConfirmResult{}, fmt.Errorf("confirm: %w", ErrInvalidAmount)
	}

	m.mu.Lock()
	winner := strings.TrimSpace(req.Winner)
	token := ""
	if m.pending != nil {
		if winner == "" {
			winner = m.pending.User
		}
		token = m.pending.RoundToken
	}
	if winner == "" {
		m.mu.Unlock()
		telemetry.IncCommand("confirm", "rejected")
		telemetry.RecordError(span, ErrNoWinnerToConfirm)
		return ConfirmResult{}, ErrNoWinnerToConfirm
	}
	if token == "" {
		token = manualTokenPrefix + winner
	}

	total, deduped, err := m.session.Bump(req.Amount, token)
	if err != nil {
		m.mu.Unlock()
		telemetry.IncCommand("confirm", "rejected")
		telemetry.RecordError(span, err)
		return ConfirmResult{}, err
	}
	now := m.now()
	msgs := m.messages.Recent(winner, time.Time{}, m.winnerMessages)
	m.history.Add(Win{Winner: winner, RoundToken: token, Amount: req.Amount, Mod: req.Mod, At: now})
	m.pending = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	res := ConfirmResult{
		Winner:     winner,
		Amount:     req.Amount,
		RoundToken: token,
		Total:      total,
		Deduped:    deduped,
		Messages:   msgs,
	}
	rec := Record{
		Channel:     m.channel,
		Winner:      winner,
		Amount:      req.Amount,
		WinnerMsgs:  msgs,
		Mod:         req.Mod,
		RoundToken:  token,
		ConfirmedAt: now,
	}

	telemetry.IncCommand("confirm", "ok")
	telemetry.SetSessionTotal(total)
	telemetry.LoggerWithCorr(ctx).Info("giveaway winner confirmed", slog.String("winner", winner),
		slog.Float64("amount", req.Amount), slog.Float64("session_total", total), slog.Bool("deduped", deduped),
		slog.String("round_token", token), slog.String("component", "giveaway"))

	m.submit(ctx, rec)
	m.notify(ctx, fmt.Sprintf("Congratulations @%s! Confirmed winner of %s.", winner, formatAmount(req.Amount)))
	m.publish(snap)
	telemetry.SetSpanSuccess(span)
	return res, nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Messages returns user's recent chat lines; see MessageStore.Recent.
func (m *Machine) Messages(user string, since time.Time, limit int) []Message {
	return m.messages.Recent(user, since, limit)
}

// SessionTotal returns the accumulated confirmed amount.
func (m *Machine) SessionTotal() float64 { return m.session.Total() }

// Prune drops aged-out chat lines and returns how many users remain tracked.
func (m *Machine) Prune() int {
	n := m.messages.Prune()
	telemetry.SetChatUsers(n)
	return n
}

// TrackedUsers returns how many users have chat lines buffered.
func (m *Machine) TrackedUsers() int { return m.messages.Users() }

// Subscribe returns a channel receiving a snapshot after each state change and
// a func to stop the subscription. Slow subscribers miss updates rather than
// blocking the machine.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 4)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
			close(ch)
		})
	}
}

func (m *Machine) publish(snap Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	var pending *Pending
	if m.pending != nil {
		p := *m.pending
		pending = &p
	}
	snap := Snapshot{
		Open:         m.open,
		Keyword:      m.keyword,
		Entrants:     m.entrants.Members(),
		EntrantCount: m.entrants.Len(),
		MaxEntrants:  m.entrants.Cap(),
		Full:         m.entrants.Full(),
		Pending:      pending,
		SessionTotal: m.session.Total(),
		History:      m.history.List(),
	}
	telemetry.SetEntrants(snap.EntrantCount)
	telemetry.SetPending(pending != nil)
	return snap
}

func (m *Machine) notify(ctx context.Context, text string) {
	if m.notifier == nil {
		return
	}
	n := m.notifier
	m.dispatcher.Dispatch(ctx, "notify", func(ctx context.Context) {
		if err := n.Send(ctx, text); err != nil {
			telemetry.IncNotifyFailure()
			telemetry.LoggerWithCorr(ctx).Warn("notification failed", slog.Any("err", err), slog.String("component", "notifier"))
		}
	})
}

func (m *Machine) submit(ctx context.Context, rec Record) {
	if m.ledger == nil {
		return
	}
	l := m.ledger
	m.dispatcher.Dispatch(ctx, "ledger", func(ctx context.Context) {
		if err := l.Submit(ctx, rec); err != nil {
			telemetry.LoggerWithCorr(ctx).Error("ledger submit failed", slog.Any("err", err),
				slog.String("winner", rec.Winner), slog.String("round_token", rec.RoundToken), slog.String("component", "ledger"))
			return
		}
		telemetry.LoggerWithCorr(ctx).Info("ledger record submitted", slog.String("winner", rec.Winner),
			slog.String("round_token", rec.RoundToken), slog.String("component", "ledger"))
	})
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// goDispatcher runs each task on its own goroutine; used when no Dispatcher is configured.
type goDispatcher struct{}

func (goDispatcher) Dispatch(ctx context.Context, _ string, fn func(ctx context.Context)) {
	go fn(context.WithoutCancel(ctx))
}
