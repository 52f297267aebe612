package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"signupbot/internal/eventbus"
	"signupbot/internal/signup"
	"signupbot/internal/source"
	"signupbot/internal/storage"
	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

var ErrEmptySnapshot = errors.New("fetched table is empty while previous snapshot had rows")

type Poller struct {
	cfg   Config
	src   source.Source
	out   Deliverer
	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger

	now   func() time.Time
	newID func() string
	diff  func(prev, cur signup.Snapshot, identity string, cols signup.Columns) signup.Result

	// mu serializes cycles and guards prev.
	mu      sync.Mutex
	prev    signup.Snapshot
	hasPrev bool

	hmu       sync.Mutex
	afterEach []func(Outcome)
}

func New(cfg Config, src source.Source, out Deliverer, store storage.Store, bus eventbus.Bus, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.IdentityColumn == "" {
		cfg.IdentityColumn = DefaultIdentityColumn
	}
	if cfg.Rules == nil {
		cfg.Rules = signup.DefaultRules()
	}
	if cfg.Formatter.Rules == nil {
		cfg.Formatter.Rules = cfg.Rules
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Poller{
		cfg:   cfg,
		src:   src,
		out:   out,
		store: store,
		bus:   bus,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
		diff:  signup.Diff,
	}
}

// DefaultIdentityColumn is the name question on the signup form.
const DefaultIdentityColumn = "What's your name? (first & last)"

// OnCycle registers fn to run after every cycle (systemd watchdog, metrics).
func (p *Poller) OnCycle(fn func(Outcome)) {
	if fn == nil {
		return
	}
	p.hmu.Lock()
	p.afterEach = append(p.afterEach, fn)
	p.hmu.Unlock()
}

// Restore loads the persisted snapshot, if any, so the next cycle diffs
// against it instead of re-baselining.
func (p *Poller) Restore(ctx context.Context) (bool, error) {
	if p.store == nil {
		return false, nil
	}
	snap, ok, err := p.store.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("restore snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}
	p.mu.Lock()
	p.prev, p.hasPrev = snap, true
	p.mu.Unlock()
	p.log.Info("snapshot restored", logx.Int("rows", snap.Table.Len()), logx.Time("fetched_at", snap.FetchedAt))
	return true, nil
}

// Previous returns the snapshot the next cycle will diff against.
func (p *Poller) Previous() (signup.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prev, p.hasPrev
}

// Cycle runs one fetch/diff/deliver pass. It never panics and never returns
// a fatal error; the outcome says what happened.
func (p *Poller) Cycle(ctx context.Context) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.now()
	o := Outcome{ID: p.newID(), Source: p.src.Name(), At: start}
	log := p.log.With(logx.String("cycle", o.ID))

	o = p.cycleLocked(ctx, o, log)
	o.Took = p.now().Sub(start)

	p.report(o, log)
	return o
}

func (p *Poller) cycleLocked(ctx context.Context, o Outcome, log logx.Logger) Outcome {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	table, err := p.src.Fetch(fctx)
	cancel()
	if err != nil {
		o.Status, o.Err = StatusFetchFailed, err
		o.Permanent = source.IsPermanent(err)
		return o
	}

	cur := signup.Snapshot{Table: table, FetchedAt: p.now()}
	o.Rows = table.Len()
	cols := p.cfg.Rules.Resolve(table.Columns)
	if col, ok := cols.Name(signup.PurposeAvailability); ok {
		o.YesCount = signup.YesCount(table, col)
	}

	if !p.hasPrev {
		p.accept(ctx, cur, log)
		o.Status = StatusBaseline
		return o
	}

	if p.cfg.EmptyIsFailure && table.Len() == 0 && p.prev.Table.Len() > 0 {
		o.Status, o.Err = StatusSuspiciousEmpty, ErrEmptySnapshot
		return o
	}

	msgs, res, err := p.render(cur, cols, o.ID)
	if err != nil {
		o.Status, o.Err = StatusDiffFailed, err
		return o
	}
	o.Events = len(res.Events)
	o.Unkeyed = res.Unkeyed
	o.Collisions = res.Collisions
	for _, c := range res.Collisions {
		log.Warn("duplicate identity; last row wins",
			logx.String("key", string(c.Key)), logx.String("side", c.Side), logx.Int("rows", c.Count))
	}

	// Current becomes previous before delivery, whatever delivery does.
	p.accept(ctx, cur, log)

	o.Status = StatusOK
	for _, m := range msgs {
		if ctx.Err() != nil {
			o.Failed++
			continue
		}
		rep := p.out.Deliver(ctx, m)
		if rep.Deduped {
			o.Deduped++
			continue
		}
		o.Delivered += rep.Delivered()
		o.Rejected += rep.Rejected()
		o.Failed += rep.Failed()
		for _, r := range rep.Results {
			if r.Err != nil {
				log.Warn("delivery failed",
					logx.String("sender", r.Sender), logx.String("outcome", string(r.Outcome)),
					logx.String("kind", m.Kind), logx.String("key", m.Key), logx.Err(r.Err))
			}
		}
	}
	if o.Rejected > 0 || o.Failed > 0 {
		o.Status = StatusDeliveryFailed
		o.Err = fmt.Errorf("%d rejected, %d failed", o.Rejected, o.Failed)
	}
	return o
}

// render diffs and formats under a recover so malformed input can't take
// the loop down.
func (p *Poller) render(cur signup.Snapshot, cols signup.Columns, cycleID string) (msgs []transport.Message, res signup.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.log.Error("diff panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	res = p.diff(p.prev, cur, p.cfg.IdentityColumn, cols)
	at := cur.FetchedAt.UTC()
	msgs = make([]transport.Message, 0, len(res.Events))
	for _, ev := range res.Events {
		msgs = append(msgs, transport.Message{
			Kind:    string(ev.Kind),
			Key:     string(ev.Key),
			CycleID: cycleID,
			Text:    p.cfg.Formatter.Format(ev, cur.Table, at),
			At:      at,
			Event:   ev,
		})
	}
	return msgs, res, nil
}

func (p *Poller) accept(ctx context.Context, cur signup.Snapshot, log logx.Logger) {
	p.prev, p.hasPrev = cur, true
	if p.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.store.SaveSnapshot(sctx, cur); err != nil {
		log.Warn("snapshot save failed", logx.Err(err))
	}
}

func (p *Poller) report(o Outcome, log logx.Logger) {
	fields := []logx.Field{
		logx.String("status", string(o.Status)),
		logx.Int("rows", o.Rows),
		logx.Int("yes", o.YesCount),
		logx.Duration("took", o.Took),
	}
	switch o.Status {
	case StatusBaseline:
		log.Info("baseline snapshot taken", fields...)
	case StatusOK:
		if o.Events > 0 {
			log.Info("changes delivered", append(fields, logx.Int("events", o.Events), logx.Int("delivered", o.Delivered), logx.Int("deduped", o.Deduped))...)
		} else {
			log.Debug("no changes", fields...)
		}
	case StatusFetchFailed:
		fields = append(fields, logx.String("source", o.Source), logx.Err(o.Err))
		if o.Permanent {
			log.Error("fetch failed permanently; check source id and sharing", fields...)
		} else {
			log.Warn("fetch failed; keeping previous snapshot", fields...)
		}
	case StatusSuspiciousEmpty:
		log.Warn("empty fetch ignored; keeping previous snapshot", fields...)
	case StatusDiffFailed:
		log.Error("diff failed; keeping previous snapshot", append(fields, logx.Err(o.Err))...)
	case StatusDeliveryFailed:
		log.Warn("some deliveries failed", append(fields,
			logx.Int("events", o.Events), logx.Int("delivered", o.Delivered),
			logx.Int("rejected", o.Rejected), logx.Int("failed", o.Failed))...)
	}

	if p.bus != nil {
		ev := CycleEvent{
			ID: o.ID, Status: string(o.Status), Events: o.Events, Delivered: o.Delivered,
			Rejected: o.Rejected, Failed: o.Failed, YesCount: o.YesCount, Permanent: o.Permanent, Took: o.Took,
		}
		if o.Err != nil {
			ev.Error = o.Err.Error()
		}
		p.bus.Publish(eventbus.Event{Type: eventbus.CyclePrefix + string(o.Status), Time: o.At, Data: ev})
	}

	p.hmu.Lock()
	hooks := append([]func(Outcome){}, p.afterEach...)
	p.hmu.Unlock()
	for _, fn := range hooks {
		fn(o)
	}
}
