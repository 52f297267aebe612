package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signupbot/internal/eventbus"
	"signupbot/internal/storage"
	"signupbot/internal/transport"
	logx "signupbot/pkg/logx"
)

// Service delivers messages to a fixed list of senders.
//
// It is safe for concurrent use, but a single caller (the poller) is
// expected so that message order is preserved.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	senders []transport.Sender
	bus     eventbus.Bus
	store   storage.Store

	cfg     Config
	limiter *rate.Limiter

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, senders []transport.Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		senders: append([]transport.Sender(nil), senders...),
		log:     log,
		bus:     bus,
		store:   store,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 300
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Senders returns the configured sender names in delivery order.
func (s *Service) Senders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.senders))
	for _, sd := range s.senders {
		out = append(out, sd.Name())
	}
	return out
}

// Deliver sends msg to every sender in order, once each, and reports the
// outcome of each attempt. It returns early only if ctx is canceled.
func (s *Service) Deliver(ctx context.Context, msg transport.Message) Report {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	senders := s.senders
	s.mu.Unlock()

	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	key := ""
	if cfg.DedupWindow > 0 {
		key = dedupKey(msg)
		if !s.dedupAllow(ctx, key, cfg) {
			s.publish(eventbus.TypeNotifierDeduped, msg, "", "", nil)
			s.log.Debug("message deduped", logx.String("kind", msg.Kind), logx.String("key", msg.Key))
			return Report{Deduped: true}
		}
	}

	if len(senders) == 0 {
		s.log.Info("no senders configured; message not delivered", logx.String("kind", msg.Kind), logx.String("text", msg.Text))
		return Report{}
	}

	rep := Report{Results: make([]Result, 0, len(senders))}
	for _, sd := range senders {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				rep.Results = append(rep.Results, Result{Sender: sd.Name(), Outcome: transport.OutcomeTransportError, Err: err})
				continue
			}
		}
		res := s.sendOne(ctx, sd, msg, cfg.SendTimeout)
		rep.Results = append(rep.Results, res)
	}

	if rep.Delivered() == 0 && key != "" {
		// Nothing went out, so don't hold the window against the next attempt.
		s.dmu.Lock()
		delete(s.dedup, key)
		s.dmu.Unlock()
		if cfg.PersistDedup && s.store != nil {
			cctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			_ = s.store.PutDedup(cctx, key, time.Now())
			cancel()
		}
	}
	return rep
}

func (s *Service) sendOne(ctx context.Context, sd transport.Sender, msg transport.Message, timeout time.Duration) Result {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	err := sd.Deliver(callCtx, msg)
	cancel()

	res := Result{Sender: sd.Name(), Outcome: transport.Classify(err), Err: err, Took: time.Since(start)}
	var rej *transport.RejectedError
	if errors.As(err, &rej) {
		res.Status = rej.Status
	}

	it := HistoryItem{At: start, Kind: msg.Kind, Key: msg.Key, Sender: res.Sender, Text: msg.Text, Outcome: res.Outcome}
	if err != nil {
		it.Error = err.Error()
	}
	s.appendHistory(it)

	switch res.Outcome {
	case transport.OutcomeDelivered:
		s.publish(eventbus.TypeNotifierSent, msg, res.Sender, string(res.Outcome), nil)
	default:
		s.publish(eventbus.TypeNotifierFailed, msg, res.Sender, string(res.Outcome), err)
	}
	s.record(msg, res)
	return res
}

// record appends the attempt to the delivery journal (best-effort).
func (s *Service) record(msg transport.Message, res Result) {
	if s.store == nil {
		return
	}
	r := storage.DeliveryRecord{
		At:      time.Now(),
		CycleID: msg.CycleID,
		Sender:  res.Sender,
		Kind:    msg.Kind,
		Key:     msg.Key,
		Outcome: string(res.Outcome),
		Status:  res.Status,
		TookMS:  res.Took.Milliseconds(),
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.store.AppendDelivery(ctx, r); err != nil {
		s.log.Debug("delivery journal append failed", logx.Err(err))
	}
}

func (s *Service) publish(typ string, msg transport.Message, sender, outcome string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Sender: sender, Kind: msg.Kind, Key: msg.Key, CycleID: msg.CycleID, At: now, Outcome: outcome}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// History returns the most recent send attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

// dedupKey hashes what the message says, not when it was rendered, so the
// timestamp header doesn't defeat the window.
func dedupKey(msg transport.Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(msg.Kind))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(msg.Key))
	_, _ = h.Write([]byte("|"))
	if msg.Event != nil {
		if b, err := json.Marshal(msg.Event); err == nil {
			_, _ = h.Write(b)
			return fmt.Sprintf("%x", h.Sum64())
		}
	}
	_, _ = h.Write([]byte(msg.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config) bool {
	now := time.Now()

	// 1) In-memory check.
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	// 2) Persistent check for cross-restart dedup.
	persist := cfg.PersistDedup && s.store != nil
	if persist {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	// 3) Allow and set new window.
	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for len(s.dedup) > cfg.DedupMaxEntries {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if !set {
			break
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if persist {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		if err := s.store.PutDedup(cctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.Err(err))
		}
		cancel()
	}
	return true
}
