// Package sched runs the node's tasks: strictly periodic tasks driven by
// tickers and event-driven loops. Every periodic task reports liveness to a
// Monitor; a stalled task ends the whole group.
package sched

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// Priority orders task startup. Higher runs first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLED
	PriorityDisplay
	PriorityNetwork
	PriorityInput
)

// Periodic is a task run once per period.
type Periodic struct {
	Name     string
	Period   time.Duration
	Priority Priority
	// Tick must not block on I/O for longer than Period.
	Tick func(now time.Time)
}

// Loop is an event-driven task. Run returns nil when ctx is cancelled;
// any error ends the group.
type Loop struct {
	Name     string
	Priority Priority
	Run      func(ctx context.Context) error
}

type periodicTask struct {
	Periodic
	hb       *Heartbeat
	overruns atomic.Uint64
}

type entry struct {
	name     string
	priority Priority
	run      func(ctx context.Context) error
}

// TickerFunc creates a tick source and its stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Group is a fixed set of tasks started together.
type Group struct {
	monitor  *Monitor
	now      func() time.Time
	ticker   TickerFunc
	periodic []*periodicTask
	entries  []entry
}

// NewGroup creates an empty group reporting to monitor. now may be nil.
func NewGroup(monitor *Monitor, now func() time.Time) *Group {
	if now == nil {
		now = time.Now
	}
	return &Group{monitor: monitor, now: now, ticker: realTicker}
}

// SetTicker replaces the tick source used by periodic tasks.
func (g *Group) SetTicker(t TickerFunc) {
	g.ticker = t
}

// Monitor returns the liveness monitor.
func (g *Group) Monitor() *Monitor {
	return g.monitor
}

// Every adds a periodic task.
func (g *Group) Every(p Periodic) {
	t := &periodicTask{Periodic: p, hb: g.monitor.Register(p.Name, p.Period, g.now())}
	g.periodic = append(g.periodic, t)
	g.entries = append(g.entries, entry{
		name:     p.Name,
		priority: p.Priority,
		run:      func(ctx context.Context) error { return g.runPeriodic(ctx, t) },
	})
}

// Go adds an event-driven task.
func (g *Group) Go(l Loop) {
	g.entries = append(g.entries, entry{name: l.Name, priority: l.Priority, run: l.Run})
}

// Overruns returns the overrun count per periodic task.
func (g *Group) Overruns() map[string]uint64 {
	out := make(map[string]uint64, len(g.periodic))
	for _, t := range g.periodic {
		out[t.Name] = t.overruns.Load()
	}
	return out
}

// Ticks returns the completed tick count of the named periodic task.
func (g *Group) Ticks(name string) uint64 {
	for _, t := range g.periodic {
		if t.Name == name {
			return t.hb.Ticks()
		}
	}
	return 0
}

// Run starts every task, highest priority first, and waits until all have
// returned. The first task error cancels the others and is returned.
func (g *Group) Run(ctx context.Context) error {
	entries := append([]entry(nil), g.entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	eg, egCtx := errgroup.WithContext(ctx)
	for _, e := range entries {
		glog.V(1).Infof("starting task %s (priority %d)", e.name, e.priority)
		eg.Go(func() error {
			err := e.run(egCtx)
			if err != nil {
				glog.Errorf("task %s: %v", e.name, err)
			} else {
				glog.V(1).Infof("task %s stopped", e.name)
			}
			return err
		})
	}
	return eg.Wait()
}

func (g *Group) runPeriodic(ctx context.Context, t *periodicTask) error {
	tick, stop := g.ticker(t.Period)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			start := g.now()
			t.Tick(start)
			end := g.now()
			t.hb.Beat(end)
			if d := end.Sub(start); d > t.Period {
				n := t.overruns.Add(1)
				if shouldLog(n) {
					glog.Errorf("task %s overran: %v > %v (overruns=%d)", t.Name, d, t.Period, n)
				}
			}
		}
	}
}
