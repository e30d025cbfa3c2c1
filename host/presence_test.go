package host

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	quiet   = 300 * time.Millisecond
)

// fakeStatus is a StatusDetector driven by the test.
type fakeStatus struct {
	mu           sync.Mutex
	present      bool
	cb           func(bool)
	unregistered bool
}

func (f *fakeStatus) CardPresent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present
}

func (f *fakeStatus) RegisterStatusNotify(cb func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
	return func() {
		f.mu.Lock()
		f.cb = nil
		f.unregistered = true
		f.mu.Unlock()
	}
}

func (f *fakeStatus) set(present bool) {
	f.mu.Lock()
	f.present = present
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(present)
	}
}

var _ StatusDetector = (*fakeStatus)(nil)

// =============================================================================
// Fixed Presence Tests
// =============================================================================

func TestPresence_BuiltInWithoutSource(t *testing.T) {
	p := newBoard()
	cfg := bareConfig()
	cfg.BuiltIn = true

	n := &mockNotifier{}
	c := mustAcquire(t, cfg, p, n)

	assert.Equal(t, PresencePresent, c.Presence())
	assert.Empty(t, p.Journal.Filter("irq."), "no monitor armed")

	c.kickMonitor()
	time.Sleep(quiet)
	assert.Equal(t, PresencePresent, c.Presence())
	n.AssertNotCalled(t, "PresenceChanged", mock.Anything)
}

func TestPresence_RemovableWithoutSource(t *testing.T) {
	c := mustAcquire(t, bareConfig(), newBoard(), nil)
	assert.Equal(t, PresenceUnknown, c.Presence())
}

// =============================================================================
// Card-detect Line Tests
// =============================================================================

func TestPresence_InitialLevel(t *testing.T) {
	tests := []struct {
		name       string
		level      gpio.Level
		activeHigh bool
		want       Presence
	}{
		{"active low, high", gpio.High, false, PresenceAbsent},
		{"active low, low", gpio.Low, false, PresencePresent},
		{"active high, high", gpio.High, true, PresencePresent},
		{"active high, low", gpio.Low, true, PresenceAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newBoard()
			p.GPIO.Line(cdLine).Set(tt.level)
			cfg := fullConfig()
			cfg.CardDetectActiveHigh = tt.activeHigh

			c := mustAcquire(t, cfg, p, nil)
			assert.Equal(t, tt.want, c.Presence())
		})
	}
}

func TestPresence_RepeatedInterruptNotifiesOnce(t *testing.T) {
	p := newBoard()
	n := &recorder{}
	c := mustAcquire(t, fullConfig(), p, n)
	cd := p.GPIO.Line(cdLine)

	cd.Set(gpio.Low)
	require.Eventually(t, func() bool { return n.Len() == 1 }, waitFor, tick)

	// A second interrupt with the level unchanged.
	cd.Bounce()
	time.Sleep(quiet)

	assert.Equal(t, []bool{true}, n.Calls())
	assert.Equal(t, PresencePresent, c.Presence())
}

func TestPresence_InsertRemoveSequence(t *testing.T) {
	p := newBoard()
	n := &recorder{}
	mustAcquire(t, fullConfig(), p, n)
	cd := p.GPIO.Line(cdLine)

	for i, level := range []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High} {
		cd.Set(level)
		want := i + 1
		require.Eventually(t, func() bool { return n.Len() == want }, waitFor, tick)
	}
	assert.Equal(t, []bool{true, false, true, false}, n.Calls())
}

func TestPresence_InsertionDebounced(t *testing.T) {
	p := newBoard()
	n := &recorder{}
	cfg := fullConfig()
	cfg.SettleDelay = 150 * time.Millisecond
	mustAcquire(t, cfg, p, n)

	start := time.Now()
	p.GPIO.Line(cdLine).Set(gpio.Low)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, n.Len(), "insertion surfaced before settling")

	require.Eventually(t, func() bool { return n.Len() == 1 }, waitFor, tick)
	assert.GreaterOrEqual(t, time.Since(start), cfg.SettleDelay)
	assert.Equal(t, []bool{true}, n.Calls())
}

func TestPresence_RemovalImmediate(t *testing.T) {
	p := newBoard()
	p.GPIO.Line(cdLine).Set(gpio.Low)

	n := &recorder{}
	cfg := fullConfig()
	cfg.SettleDelay = time.Hour
	c := mustAcquire(t, cfg, p, n)
	require.Equal(t, PresencePresent, c.Presence())

	p.GPIO.Line(cdLine).Set(gpio.High)
	require.Eventually(t, func() bool { return n.Len() == 1 }, waitFor, tick)
	assert.Equal(t, []bool{false}, n.Calls())
}

func TestPresence_BounceWhileSettlingSuppressed(t *testing.T) {
	p := newBoard()
	n := &recorder{}
	cfg := fullConfig()
	cfg.SettleDelay = 100 * time.Millisecond
	c := mustAcquire(t, cfg, p, n)
	cd := p.GPIO.Line(cdLine)

	// Contact chatter: in and straight back out.
	cd.Set(gpio.Low)
	time.Sleep(10 * time.Millisecond)
	cd.Set(gpio.High)

	time.Sleep(cfg.SettleDelay + quiet)
	assert.Zero(t, n.Len())
	assert.Equal(t, PresenceAbsent, c.Presence())
}

func TestPresence_BuiltInNotDebounced(t *testing.T) {
	p := newBoard()
	n := &recorder{}
	cfg := fullConfig()
	cfg.BuiltIn = true
	cfg.SettleDelay = time.Hour
	mustAcquire(t, cfg, p, n)

	p.GPIO.Line(cdLine).Set(gpio.Low)
	require.Eventually(t, func() bool { return n.Len() == 1 }, waitFor, tick)
}

func TestPresence_NotifierMayCallBack(t *testing.T) {
	p := newBoard()

	ctrl := make(chan *Controller, 1)
	seen := make(chan Presence, 1)
	n := NotifierFunc(func(bool) {
		c := <-ctrl
		seen <- c.Presence()
	})

	c := mustAcquire(t, fullConfig(), p, n)
	ctrl <- c

	p.GPIO.Line(cdLine).Set(gpio.Low)
	select {
	case got := <-seen:
		assert.Equal(t, PresencePresent, got)
	case <-time.After(waitFor):
		t.Fatal("notifier deadlocked calling back into the controller")
	}
}

func TestPresence_NotifierMayRelease(t *testing.T) {
	p := newBoard()

	ctrl := make(chan *Controller, 1)
	released := make(chan error, 1)
	n := NotifierFunc(func(present bool) {
		if present {
			return
		}
		c := <-ctrl
		released <- c.Release()
	})

	c := mustAcquire(t, fullConfig(), p, n)
	ctrl <- c

	p.GPIO.Line(cdLine).Set(gpio.Low)
	require.Eventually(t, func() bool { return c.Presence() == PresencePresent }, waitFor, tick)
	p.GPIO.Line(cdLine).Set(gpio.High)

	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("release from the notifier did not return")
	}
	assert.Empty(t, p.Held())

	// Nothing left to notify.
	p.GPIO.Line(cdLine).Set(gpio.Low)
	time.Sleep(quiet)
	assert.NoError(t, c.Release())
}

func TestPresence_NoNotificationAfterRelease(t *testing.T) {
	p := newBoard()
	n := &mockNotifier{}
	c, err := Acquire(fullConfig(), p.HAL(), n)
	require.NoError(t, err)
	require.NoError(t, c.Release())

	p.GPIO.Line(cdLine).Set(gpio.Low)
	time.Sleep(quiet)
	n.AssertNotCalled(t, "PresenceChanged", mock.Anything)
}

// =============================================================================
// Status Detector Tests
// =============================================================================

func TestPresence_StatusDetector(t *testing.T) {
	p := newBoard()
	status := &fakeStatus{}

	n := &mockNotifier{}
	n.On("PresenceChanged", true).Once()
	n.On("PresenceChanged", false).Once()

	cfg := bareConfig()
	cfg.Status = status
	cfg.SettleDelay = 0
	c, err := Acquire(cfg, p.HAL(), n)
	require.NoError(t, err)
	assert.Equal(t, PresenceAbsent, c.Presence())

	status.set(true)
	require.Eventually(t, func() bool { return c.Presence() == PresencePresent }, waitFor, tick)

	// Advisory callback with nothing changed.
	status.set(true)

	status.set(false)
	require.Eventually(t, func() bool { return c.Presence() == PresenceAbsent }, waitFor, tick)

	require.NoError(t, c.Release())
	n.AssertExpectations(t)
	n.AssertNumberOfCalls(t, "PresenceChanged", 2)

	status.mu.Lock()
	assert.True(t, status.unregistered)
	status.mu.Unlock()
}

func TestPresence_StatusDetectorInitiallyPresent(t *testing.T) {
	status := &fakeStatus{present: true}
	cfg := bareConfig()
	cfg.Status = status

	c := mustAcquire(t, cfg, newBoard(), nil)
	assert.Equal(t, PresencePresent, c.Presence())
}

// =============================================================================
// observeLocked Tests
// =============================================================================

func TestObserve_Deadline(t *testing.T) {
	c := &Controller{mon: newMonitor()}
	c.cfg.SettleDelay = time.Second
	c.card.init(PresenceAbsent)

	t0 := time.Unix(1000, 0)

	_, changed := c.observeLocked(PresencePresent, t0)
	assert.False(t, changed)

	_, changed = c.observeLocked(PresencePresent, t0.Add(500*time.Millisecond))
	assert.False(t, changed, "still settling")

	got, changed := c.observeLocked(PresencePresent, t0.Add(time.Second))
	assert.True(t, changed)
	assert.Equal(t, PresencePresent, got)

	_, changed = c.observeLocked(PresencePresent, t0.Add(2*time.Second))
	assert.False(t, changed)

	got, changed = c.observeLocked(PresenceAbsent, t0.Add(3*time.Second))
	assert.True(t, changed)
	assert.Equal(t, PresenceAbsent, got)

	c.disarmSettleLocked()
}
