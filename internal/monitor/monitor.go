// Package monitor owns the sample loop: one ticker drives the selected
// sampler and fans each snapshot out to the log writer, the stdout echo, the
// snapshot store, and the reporter.
package monitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"satmon/internal/logwriter"
	"satmon/internal/metrics"
	"satmon/internal/sampler"
)

// DefaultInterval is the sample period when none is configured.
const DefaultInterval = time.Second

// Reporter consumes one snapshot per tick. Implementations must not block
// the caller; the reporter drops snapshots while a post is in flight.
type Reporter interface {
	TryReport(ctx context.Context, snap metrics.Snapshot) bool
}

// LockSignaler is notified once the demodulator achieves frame lock.
// The registrar satisfies it.
type LockSignaler interface {
	SignalLock()
}

// Options tune the loop.
type Options struct {
	Interval  time.Duration
	Echo      bool // print each sample to Out
	Scrolling bool // newline per sample instead of carriage-return overwrite
	UTC       bool
}

// Deps are the fan-out targets. Writer, Reporter, Lock, and Out are optional.
type Deps struct {
	Sampler  sampler.Sampler
	Store    *metrics.Store
	Writer   *logwriter.Writer
	Reporter Reporter
	Lock     LockSignaler
	Out      io.Writer
}

// Monitor runs the loop. Single writer of the store.
type Monitor struct {
	deps Deps
	opts Options
	log  *logrus.Entry

	samplerDead bool
	reports     sync.WaitGroup
}

// New builds the monitor.
func New(deps Deps, opts Options, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Monitor{deps: deps, opts: opts, log: log}
}

// Run drives the loop until the context ends. The shutdown is honored at the
// tick boundary; a sample in progress finishes first.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			if m.opts.Echo && !m.opts.Scrolling && m.deps.Out != nil {
				fmt.Fprintln(m.deps.Out)
			}
			m.drainReports()
			return nil
		case <-ticker.C:
		}
	}
}

// drainReports lets an in-flight report finish within the shutdown grace
// before the process goes away.
func (m *Monitor) drainReports() {
	done := make(chan struct{})
	go func() {
		m.reports.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		m.log.Warn("abandoning in-flight report")
	}
}

func (m *Monitor) tick(ctx context.Context) {
	rec := metrics.Record{}
	if !m.samplerDead {
		var err error
		rec, err = m.deps.Sampler.Sample(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, sampler.ErrFatal):
			// The loop keeps publishing so observers see the loss of lock
			// rather than a silently frozen last sample.
			m.log.WithError(err).Error("sampler failed permanently")
			m.samplerDead = true
			rec = metrics.Record{}
		default:
			m.log.WithError(err).Warn("sample failed")
			rec = metrics.Record{}
		}
	}

	snap := m.deps.Store.Publish(time.Now(), rec)
	if snap.Record.Lock && m.deps.Lock != nil {
		m.deps.Lock.SignalLock()
	}

	line := metrics.Render(snap, m.opts.UTC)
	if m.deps.Writer != nil {
		if err := m.deps.Writer.Append(line); err != nil {
			m.log.WithError(err).Warn("write receiver log")
		}
	}
	if m.opts.Echo && m.deps.Out != nil {
		if m.opts.Scrolling {
			fmt.Fprintln(m.deps.Out, line)
		} else {
			fmt.Fprintf(m.deps.Out, "\033[K%s\r", line)
		}
	}
	if m.deps.Reporter != nil {
		// The report must survive loop shutdown for the grace period, so its
		// context is detached from the loop's.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		m.reports.Add(1)
		go func() {
			defer cancel()
			defer m.reports.Done()
			m.deps.Reporter.TryReport(rctx, snap)
		}()
	}
}
