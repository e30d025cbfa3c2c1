package host

import (
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// edgeWait bounds each wait for a card-detect edge so the watcher notices
// shutdown on lines whose Halt is a no-op.
const edgeWait = 100 * time.Millisecond

// Notifier receives presence changes. PresenceChanged is called at most once
// per transition, from the controller's deferred-work goroutine, never while
// the controller lock is held. It may call back into the controller,
// including Release.
type Notifier interface {
	PresenceChanged(present bool)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(present bool)

// PresenceChanged calls f(present).
func (f NotifierFunc) PresenceChanged(present bool) { f(present) }

// CardState is the per-instance presence record.
type CardState struct {
	observed Presence  // last level read from the source
	surfaced Presence  // last value reported upward
	deadline time.Time // nonzero while an insertion is settling
	fixed    bool      // no source; never changes
}

func (s *CardState) init(p Presence) {
	s.observed, s.surfaced = p, p
}

func (s *CardState) setFixed(builtIn bool) {
	p := PresenceUnknown
	if builtIn {
		p = PresencePresent
	}
	s.init(p)
	s.fixed = true
}

// monitor turns card-detect edges into deferred presence evaluation.
//
// The edge watcher stands in for the interrupt handler: all it does is post
// to kick. One worker goroutine consumes kick and the settle timer, takes
// the controller lock to evaluate, and notifies after unlocking.
//
// The notifier may release the controller. In that case stopMonitor runs on
// the worker itself, so it waits only for the edge watcher; the worker sees
// done once the notifier returns.
type monitor struct {
	kick   chan struct{}
	settle chan struct{}
	done   chan struct{}

	watcher   sync.WaitGroup
	worker    sync.WaitGroup
	notifying atomic.Bool // worker is inside Notifier.PresenceChanged
	stop      sync.Once
	timer     *time.Timer // guarded by Controller.mu
}

func newMonitor() *monitor {
	return &monitor{
		kick:   make(chan struct{}, 1),
		settle: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func post(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// kickMonitor schedules a presence re-evaluation. It never blocks.
func (c *Controller) kickMonitor() {
	post(c.mon.kick)
}

func (c *Controller) startMonitor() {
	if c.card.fixed {
		pkg.LogDebug(pkg.ComponentPresence, "no presence source, state fixed",
			c.attrs("presence", c.card.surfaced)...)
		return
	}

	c.mon.worker.Add(1)
	go c.evaluateLoop()

	if c.cd != nil {
		c.mon.watcher.Add(1)
		go c.watchEdges(c.cd)
	}
}

// stopMonitor ends both goroutines and waits for them. Safe to call more
// than once and before startMonitor. While a notification is in flight it
// does not wait for the worker, which may be the caller.
func (c *Controller) stopMonitor() {
	c.mon.stop.Do(func() {
		close(c.mon.done)
		if c.cd != nil {
			_ = c.cd.Halt()
		}
	})
	c.mon.watcher.Wait()
	if !c.mon.notifying.Load() {
		c.mon.worker.Wait()
	}

	c.mu.Lock()
	if c.mon.timer != nil {
		c.mon.timer.Stop()
		c.mon.timer = nil
	}
	c.mu.Unlock()
}

func (c *Controller) watchEdges(line hal.Line) {
	defer c.mon.watcher.Done()
	for {
		select {
		case <-c.mon.done:
			return
		default:
		}
		if line.WaitForEdge(edgeWait) {
			c.kickMonitor()
		}
	}
}

func (c *Controller) evaluateLoop() {
	defer c.mon.worker.Done()
	for {
		select {
		case <-c.mon.done:
			return
		case <-c.mon.kick:
		case <-c.mon.settle:
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		p := c.queryPresenceLocked()
		report, changed := c.observeLocked(p, time.Now())
		c.mu.Unlock()

		if changed {
			pkg.LogInfo(pkg.ComponentPresence, "presence changed",
				c.attrs("presence", report)...)
			if c.notify != nil {
				c.mon.notifying.Store(true)
				c.notify.PresenceChanged(report == PresencePresent)
				c.mon.notifying.Store(false)
			}
		}
	}
}

func (c *Controller) queryPresenceLocked() Presence {
	if c.cd != nil {
		return c.readCardDetect()
	}
	return presenceOf(c.cfg.Status.CardPresent())
}

func (c *Controller) readCardDetect() Presence {
	active := gpio.Low
	if c.cfg.CardDetectActiveHigh {
		active = gpio.High
	}
	return presenceOf(c.cd.Read() == active)
}

// observeLocked folds a fresh reading into the card state and reports the
// value to surface, if any.
//
// An unchanged reading never surfaces anything. A removable card arriving
// starts the settle delay; the value surfaces when the delay has elapsed
// and the card is still there. Every other change surfaces at once.
func (c *Controller) observeLocked(p Presence, now time.Time) (Presence, bool) {
	s := &c.card

	if p != s.observed {
		s.observed = p
		if p == PresencePresent && !c.cfg.BuiltIn && c.cfg.SettleDelay > 0 {
			s.deadline = now.Add(c.cfg.SettleDelay)
			c.armSettleLocked(c.cfg.SettleDelay)
			pkg.LogDebug(pkg.ComponentPresence, "card inserted, settling",
				c.attrs("delay", c.cfg.SettleDelay)...)
		} else {
			s.deadline = time.Time{}
			c.disarmSettleLocked()
		}
	}

	if !s.deadline.IsZero() {
		if now.Before(s.deadline) {
			return s.surfaced, false
		}
		s.deadline = time.Time{}
	}

	if s.observed == s.surfaced {
		return s.surfaced, false
	}
	s.surfaced = s.observed
	return s.surfaced, true
}

func (c *Controller) armSettleLocked(d time.Duration) {
	c.disarmSettleLocked()
	c.mon.timer = time.AfterFunc(d, func() { post(c.mon.settle) })
}

func (c *Controller) disarmSettleLocked() {
	if c.mon.timer != nil {
		c.mon.timer.Stop()
		c.mon.timer = nil
	}
}

// Presence returns the last surfaced presence.
func (c *Controller) Presence() Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.card.surfaced
}
