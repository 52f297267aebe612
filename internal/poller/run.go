package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "signupbot/pkg/logx"
)

// Run performs one cycle immediately, then one per schedule tick until ctx
// is done. A tick that fires while a cycle is still running is skipped.
func (p *Poller) Run(ctx context.Context) error {
	sched := p.cfg.Schedule
	if sched.Source == "" {
		def, err := ParseSchedule(DefaultSchedule)
		if err != nil {
			return err
		}
		sched = def
	}
	cs, err := sched.cronSchedule()
	if err != nil {
		return fmt.Errorf("schedule %q: %w", sched.Source, err)
	}

	cl := cronLogger{log: p.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(p.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cs, cron.FuncJob(func() { p.Cycle(ctx) }))

	p.log.Info("poller started",
		logx.String("source", p.src.Name()),
		logx.String("schedule", sched.String()),
		logx.String("tz", p.cfg.Location.String()))

	p.Cycle(ctx)
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	<-ctx.Done()

	start := time.Now()
	<-c.Stop().Done()
	p.log.Info("poller stopped", logx.Duration("took", time.Since(start)))
	return nil
}

// cronLogger adapts logx to cron.Logger. Cron's info output is chatty, so it
// goes to debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
