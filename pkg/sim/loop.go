package sim

import (
	"context"
	"sync"
	"time"

	"vrprinter-go/pkg/config"
	"vrprinter-go/pkg/deposition"
	simerrors "vrprinter-go/pkg/errors"
	"vrprinter-go/pkg/log"
)

// Defaults for a Loop.
const (
	DefaultFrameInterval = 16 * time.Millisecond
	DefaultBeadBacklog   = 4096
)

// Loop drives a Simulation on a single goroutine. Other goroutines
// control it through commands and read the status snapshot published
// after every frame.
type Loop struct {
	sim      *Simulation
	interval time.Duration
	logger   *log.Logger

	cmds    chan func(*Simulation)
	stopped chan struct{}

	mu     sync.RWMutex
	status Status

	beads *beadBuffer
}

// NewLoop wraps s. s must not be used directly once Run has started.
func NewLoop(s *Simulation, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	l := &Loop{
		sim:      s,
		interval: interval,
		logger:   log.GetLogger("loop"),
		cmds:     make(chan func(*Simulation)),
		stopped:  make(chan struct{}),
		beads:    &beadBuffer{limit: DefaultBeadBacklog},
	}
	if s.sink != nil {
		s.SetSink(deposition.MultiSink(s.sink, l.beads))
	} else {
		s.SetSink(l.beads)
	}
	l.status = s.Status()
	return l
}

// Run steps the simulation every interval until ctx is cancelled.
// Paused and finished sessions stay idle but keep serving commands.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.WithField("interval", l.interval.String()).Debug("loop started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.cmds:
			fn(l.sim)
			l.publish()
		case <-ticker.C:
			if l.sim.Done() || l.sim.Paused() {
				continue
			}
			res := l.sim.Frame()
			if res.Done {
				l.sim.Analyzer().Flush()
				l.logger.WithField("line", l.sim.Status().Line).Info("simulation finished")
			}
			l.publish()
		}
	}
}

func (l *Loop) publish() {
	st := l.sim.Status()
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

// do runs fn on the loop goroutine and waits for it.
func (l *Loop) do(fn func(*Simulation) error) error {
	reply := make(chan error, 1)
	select {
	case l.cmds <- func(s *Simulation) { reply <- fn(s) }:
	case <-l.stopped:
		return simerrors.SessionError("simulation loop stopped")
	}
	select {
	case err := <-reply:
		return err
	case <-l.stopped:
		return simerrors.SessionError("simulation loop stopped")
	}
}

// Status returns the last published snapshot.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Histograms computes both histograms on the loop goroutine.
func (l *Loop) Histograms(keep float64) (Histograms, error) {
	var h Histograms
	err := l.do(func(s *Simulation) error {
		h = s.Histograms(keep)
		return nil
	})
	return h, err
}

// Pause suspends the simulation.
func (l *Loop) Pause() error {
	return l.do(func(s *Simulation) error { s.Pause(); return nil })
}

// Resume lifts a pause.
func (l *Loop) Resume() error {
	return l.do(func(s *Simulation) error { s.Resume(); return nil })
}

// Reset rewinds to line.
func (l *Loop) Reset(line int) error {
	return l.do(func(s *Simulation) error {
		l.beads.drop()
		return s.ResetToLine(line)
	})
}

// Load starts a new session on text, e.g. after the file changed.
func (l *Loop) Load(text string) error {
	return l.do(func(s *Simulation) error {
		l.beads.drop()
		return s.Start(text)
	})
}

// Reconfigure restarts the session under cfg.
func (l *Loop) Reconfigure(cfg *config.SimulatorConfig) error {
	return l.do(func(s *Simulation) error {
		l.beads.drop()
		return s.Reconfigure(cfg)
	})
}

// DrainBeads returns the beads finished since the last call.
func (l *Loop) DrainBeads() [][]deposition.Sample {
	return l.beads.take()
}

// beadBuffer collects finished beads for another goroutine. When
// nobody drains it, the backlog is dropped at limit.
type beadBuffer struct {
	mu    sync.Mutex
	rec   deposition.Recorder
	limit int
}

func (b *beadBuffer) AddSample(s deposition.Sample) {
	b.mu.Lock()
	b.rec.AddSample(s)
	b.mu.Unlock()
}

func (b *beadBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rec.Close()
	if len(b.rec.Beads()) > b.limit {
		b.rec.TakeBeads()
	}
}

func (b *beadBuffer) take() [][]deposition.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec.TakeBeads()
}

func (b *beadBuffer) drop() {
	b.mu.Lock()
	b.rec.Reset()
	b.mu.Unlock()
}
