package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// =============================================================================
// Registers
// =============================================================================

func TestRegisters_Widths(t *testing.T) {
	r := NewRegisters()

	r.Write32(0x40, 0x11223344)
	assert.Equal(t, uint32(0x11223344), r.Read32(0x40))
	assert.Equal(t, uint16(0x3344), r.Read16(0x40))
	assert.Equal(t, uint16(0x1122), r.Read16(0x42))
	assert.Equal(t, uint8(0x44), r.Read8(0x40))

	r.Write8(0x41, 0xAA)
	assert.Equal(t, uint32(0x1122AA44), r.Read32(0x40))

	r.Write16(0xFE, 0x0102)
	assert.Equal(t, uint16(0x0102), r.Read16(0xFE))
}

func TestRegisters_OutOfWindow(t *testing.T) {
	r := NewRegisters()
	r.Write32(WindowSize, 0xFFFFFFFF)
	r.Write16(WindowSize-1, 0xFFFF)
	assert.Equal(t, uint32(0), r.Read32(WindowSize))
	assert.Equal(t, uint16(0), r.Read16(WindowSize-1))
}

func TestRegisters_Accesses(t *testing.T) {
	r := NewRegisters()
	r.Write16(0x2C, 0)
	_ = r.Read32(0x24)
	r.Write16(0x2C, 0x0100)

	all := r.Accesses()
	require.Len(t, all, 3)
	assert.Equal(t, Access{Write: false, Width: 32, Offset: 0x24}, all[1])

	w := r.Writes(0x2C)
	require.Len(t, w, 2)
	assert.Equal(t, uint32(0x0100), w[1].Value)

	r.ResetAccesses()
	assert.Empty(t, r.Accesses())
}

func TestRegisters_PeekPokeUnrecorded(t *testing.T) {
	r := NewRegisters()
	r.Poke(0xFE, 16, 0x0502)
	assert.Equal(t, uint32(0x0502), r.Peek(0xFE, 16))
	assert.Empty(t, r.Accesses())
}

func TestRegisters_ClockStableModel(t *testing.T) {
	tests := []struct {
		name        string
		stableAfter int
		polls       int
		wantStable  bool
	}{
		{"immediate", 0, 1, true},
		{"after three", 3, 3, false},
		{"after three polled four", 3, 4, true},
		{"never", -1, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegisters()
			r.StableAfter = tt.stableAfter
			r.Write16(clockControl, 0x0400|clockIntEn)

			var v uint16
			for i := 0; i < tt.polls; i++ {
				v = r.Read16(clockControl)
			}
			assert.Equal(t, tt.wantStable, v&clockIntStable != 0)
		})
	}
}

func TestRegisters_StableBitReadOnly(t *testing.T) {
	r := NewRegisters()
	r.Write16(clockControl, clockIntStable)
	assert.Zero(t, r.Peek(clockControl, 16)&clockIntStable)

	r.Write16(clockControl, clockIntEn)
	_ = r.Read16(clockControl)
	// Keeping the internal clock enabled keeps it stable.
	r.Write16(clockControl, clockIntEn|0x0004)
	assert.NotZero(t, r.Peek(clockControl, 16)&clockIntStable)

	r.Write16(clockControl, 0)
	assert.Zero(t, r.Peek(clockControl, 16)&clockIntStable)
}

// =============================================================================
// GPIO
// =============================================================================

func TestGPIO_RequestFree(t *testing.T) {
	j := &Journal{}
	g := NewGPIO(j)
	g.Add(5, gpio.Low)

	l, err := g.Request(5, "sdhci0_cd")
	require.NoError(t, err)
	assert.Equal(t, "GPIO5", l.Name())

	label, ok := g.Reserved(5)
	assert.True(t, ok)
	assert.Equal(t, "sdhci0_cd", label)

	_, err = g.Request(5, "other")
	assert.ErrorIs(t, err, pkg.ErrLineUnavailable)

	_, err = g.Request(6, "missing")
	assert.ErrorIs(t, err, pkg.ErrLineUnavailable)

	require.NoError(t, g.Free(5))
	assert.Error(t, g.Free(5))
	assert.Empty(t, g.Reservations())

	assert.Equal(t, []string{"gpio.request 5 sdhci0_cd", "gpio.free 5"}, j.Entries())
}

func TestLine_Edges(t *testing.T) {
	tests := []struct {
		name  string
		edge  gpio.Edge
		from  gpio.Level
		to    gpio.Level
		fired bool
	}{
		{"both rising", gpio.BothEdges, gpio.Low, gpio.High, true},
		{"both falling", gpio.BothEdges, gpio.High, gpio.Low, true},
		{"rising only, falling", gpio.RisingEdge, gpio.High, gpio.Low, false},
		{"falling only, falling", gpio.FallingEdge, gpio.High, gpio.Low, true},
		{"unchanged", gpio.BothEdges, gpio.High, gpio.High, false},
		{"unarmed", gpio.NoEdge, gpio.Low, gpio.High, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGPIO(nil)
			l := g.Add(1, tt.from)
			require.NoError(t, l.In(gpio.PullNoChange, tt.edge))
			l.Set(tt.to)
			assert.Equal(t, tt.fired, l.WaitForEdge(10*time.Millisecond))
			assert.Equal(t, tt.to, l.Read())
		})
	}
}

func TestLine_IRQJournal(t *testing.T) {
	j := &Journal{}
	l := NewGPIO(j).Add(3, gpio.High)

	require.NoError(t, l.In(gpio.PullUp, gpio.BothEdges))
	require.NoError(t, l.In(gpio.PullNoChange, gpio.BothEdges))
	require.NoError(t, l.In(gpio.PullNoChange, gpio.NoEdge))

	assert.Equal(t, []string{"irq.request 3", "irq.free 3"}, j.Entries())
}

func TestLine_FailEdge(t *testing.T) {
	l := NewGPIO(nil).Add(3, gpio.High)
	l.FailEdge = true
	assert.Error(t, l.In(gpio.PullNoChange, gpio.BothEdges))
	assert.NoError(t, l.In(gpio.PullNoChange, gpio.NoEdge))
	assert.Equal(t, gpio.NoEdge, l.Armed())
}

func TestLine_HaltWakesWaiter(t *testing.T) {
	l := NewGPIO(nil).Add(3, gpio.High)
	require.NoError(t, l.In(gpio.PullNoChange, gpio.BothEdges))

	done := make(chan bool, 1)
	go func() { done <- l.WaitForEdge(-1) }()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, l.Halt())

	select {
	case got := <-done:
		assert.False(t, got)
	case <-time.After(time.Second):
		t.Fatal("WaitForEdge did not return after Halt")
	}
}

func TestLine_BounceKeepsLevel(t *testing.T) {
	l := NewGPIO(nil).Add(3, gpio.Low)
	require.NoError(t, l.In(gpio.PullNoChange, gpio.BothEdges))
	l.Bounce()
	assert.True(t, l.WaitForEdge(10*time.Millisecond))
	assert.Equal(t, gpio.Low, l.Read())
}

func TestLine_Out(t *testing.T) {
	j := &Journal{}
	l := NewGPIO(j).Add(9, gpio.Low)
	require.NoError(t, l.Out(gpio.High))
	assert.True(t, l.IsOutput())
	assert.Equal(t, gpio.High, l.Read())
	assert.Equal(t, []string{"gpio.out 9 High"}, j.Entries())
}

// =============================================================================
// Regulators and clocks
// =============================================================================

func TestRegulator_SetVoltage(t *testing.T) {
	rs := NewRegulators(nil)
	rs.Add("vddio_sdmmc", hal.VoltageRange{MinUV: 1800000, MaxUV: 3300000})

	r, err := rs.Get("vddio_sdmmc")
	require.NoError(t, err)

	tests := []struct {
		name     string
		min, max int
		ok       bool
	}{
		{"inside", 3280000, 3320000, true},
		{"overlap low", 1700000, 1800000, true},
		{"above", 3400000, 3500000, false},
		{"below", 1000000, 1200000, false},
		{"inverted", 3320000, 3280000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.SetVoltage(tt.min, tt.max)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, pkg.ErrVoltageRejected)
			}
		})
	}
}

func TestRegulators_Handles(t *testing.T) {
	j := &Journal{}
	rs := NewRegulators(j)
	sup := rs.Add("vddio_sd_slot", hal.VoltageRange{MinUV: 3300000, MaxUV: 3300000})

	_, err := rs.Get("missing")
	assert.ErrorIs(t, err, pkg.ErrRegulatorNotFound)

	r, err := rs.Get("vddio_sd_slot")
	require.NoError(t, err)
	require.NoError(t, r.Enable())
	assert.True(t, sup.Enabled())
	assert.Equal(t, 1, rs.Handles("vddio_sd_slot"))

	require.NoError(t, r.Disable())
	assert.Error(t, r.Disable())
	rs.Put(r)
	assert.Zero(t, rs.Handles("vddio_sd_slot"))

	sup.FailEnable = errors.New("boom")
	assert.Error(t, r.Enable())
	assert.False(t, sup.Enabled())

	assert.Equal(t, []string{
		"regulator.get vddio_sd_slot",
		"regulator.enable vddio_sd_slot",
		"regulator.disable vddio_sd_slot",
		"regulator.put vddio_sd_slot",
	}, j.Entries())
}

func TestClocks_DefaultAndCount(t *testing.T) {
	cs := NewClocks(nil)
	sdmmc := cs.Add("sdmmc4", 48*physic.MegaHertz)
	cs.Add("other", physic.MegaHertz)

	c, err := cs.Get("")
	require.NoError(t, err)
	assert.Equal(t, "sdmmc4", c.Name())
	assert.Equal(t, 48*physic.MegaHertz, c.Rate())

	_, err = cs.Get("nope")
	assert.ErrorIs(t, err, pkg.ErrClockUnavailable)

	require.NoError(t, c.Enable())
	assert.Equal(t, 1, sdmmc.EnableCount())
	c.Disable()
	c.Disable()
	assert.Zero(t, sdmmc.EnableCount())

	cs.Put(c)
	assert.Zero(t, cs.Handles("sdmmc4"))
}

// =============================================================================
// Platform
// =============================================================================

func TestPlatform_Held(t *testing.T) {
	p := NewPlatform()
	p.GPIO.Add(1, gpio.High)
	p.Regulators.Add("vddio_sdmmc", hal.VoltageRange{MinUV: 3300000, MaxUV: 3300000})
	p.Clocks.Add("sdmmc1", 48*physic.MegaHertz)

	assert.Empty(t, p.Held())

	h := p.HAL()
	l, err := h.GPIO.Request(1, "sdhci0_cd")
	require.NoError(t, err)
	require.NoError(t, l.In(gpio.PullNoChange, gpio.BothEdges))
	r, err := h.Regulators.Get("vddio_sdmmc")
	require.NoError(t, err)
	require.NoError(t, r.Enable())
	c, err := h.Clocks.Get("")
	require.NoError(t, err)
	require.NoError(t, c.Enable())

	assert.Equal(t, []string{
		"clock enabled sdmmc1",
		"clock handle sdmmc1",
		"gpio 1 (sdhci0_cd)",
		"irq 1",
		"regulator enabled vddio_sdmmc",
		"regulator handle vddio_sdmmc",
	}, p.Held())

	c.Disable()
	h.Clocks.Put(c)
	require.NoError(t, r.Disable())
	h.Regulators.Put(r)
	require.NoError(t, l.In(gpio.PullNoChange, gpio.NoEdge))
	require.NoError(t, h.GPIO.Free(1))

	assert.Empty(t, p.Held())
}

func TestJournal_Filter(t *testing.T) {
	j := &Journal{}
	j.add("gpio.request %d %s", 1, "a")
	j.add("clock.enable %s", "c")
	j.add("gpio.free %d", 1)

	assert.Equal(t, []string{"gpio.request 1 a", "gpio.free 1"}, j.Filter("gpio."))
	j.Reset()
	assert.Empty(t, j.Entries())

	var nilJournal *Journal
	nilJournal.add("ignored")
}
