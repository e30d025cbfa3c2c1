//go:build linux

package linux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// =============================================================================
// Window Tests
// =============================================================================

func TestWindow_Widths(t *testing.T) {
	w := newWindow(make([]byte, WindowSize))

	w.Write32(0x24, 0x11223344)
	assert.Equal(t, uint32(0x11223344), w.Read32(0x24))
	assert.Equal(t, uint16(0x3344), w.Read16(0x24))
	assert.Equal(t, uint16(0x1122), w.Read16(0x26))
	assert.Equal(t, uint8(0x44), w.Read8(0x24))
	assert.Equal(t, uint8(0x11), w.Read8(0x27))

	w.Write16(0x2C, 0x3C07)
	assert.Equal(t, uint16(0x3C07), w.Read16(0x2C))

	w.Write8(0x28, 0x22)
	assert.Equal(t, uint8(0x22), w.Read8(0x28))
}

func TestWindow_OutOfRange(t *testing.T) {
	w := newWindow(make([]byte, WindowSize))

	w.Write32(WindowSize, 0xFFFFFFFF)
	assert.Zero(t, w.Read32(WindowSize))
	assert.Zero(t, w.Read16(WindowSize-1), "straddles the end")
	assert.Zero(t, w.Read8(WindowSize+4))
}

func TestWindow_OffsetWrap(t *testing.T) {
	w := newWindow(make([]byte, WindowSize))
	w.Write32(0, 0x11223344)

	tests := []struct {
		name   string
		offset uint32
		read   func(uint32) uint32
	}{
		{"read8", 0xFFFFFFFF, func(o uint32) uint32 { return uint32(w.Read8(o)) }},
		{"read16", 0xFFFFFFFE, func(o uint32) uint32 { return uint32(w.Read16(o)) }},
		{"read32", 0xFFFFFFFC, w.Read32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, tt.read(tt.offset))
		})
	}

	assert.NotPanics(t, func() {
		w.Write8(0xFFFFFFFF, 0xFF)
		w.Write16(0xFFFFFFFE, 0xFFFF)
		w.Write32(0xFFFFFFFC, 0xFFFFFFFF)
	})
	assert.Equal(t, uint32(0x11223344), w.Read32(0))
}

func TestWindow_Misaligned(t *testing.T) {
	w := newWindow(make([]byte, WindowSize))
	w.Write32(0x20, 0xAABBCCDD)

	assert.Zero(t, w.Read32(0x22))
	assert.Zero(t, w.Read16(0x21))
	w.Write16(0x21, 0xFFFF)
	assert.Equal(t, uint32(0xAABBCCDD), w.Read32(0x20))
}

func TestWindow_CloseHeap(t *testing.T) {
	w := newWindow(make([]byte, WindowSize))
	assert.NoError(t, w.Close())
	assert.Zero(t, w.Base())
}

// =============================================================================
// GPIO Tests
// =============================================================================

func fakePins() func(hal.LineID) gpio.PinIO {
	pins := map[hal.LineID]gpio.PinIO{
		69:  &gpiotest.Pin{N: "GPIO69", Num: 69, L: gpio.High},
		155: &gpiotest.Pin{N: "GPIO155", Num: 155, L: gpio.Low},
	}
	return func(id hal.LineID) gpio.PinIO {
		if p, ok := pins[id]; ok {
			return p
		}
		return gpio.INVALID
	}
}

func TestGPIO_Request(t *testing.T) {
	g := newGPIO(fakePins())

	cd, err := g.Request(69, "sdhci0_cd")
	require.NoError(t, err)
	assert.Equal(t, "GPIO69", cd.Name())
	assert.Equal(t, gpio.High, cd.Read())

	label, ok := g.Holder(69)
	assert.True(t, ok)
	assert.Equal(t, "sdhci0_cd", label)

	_, err = g.Request(69, "sdhci1_cd")
	assert.ErrorIs(t, err, pkg.ErrLineUnavailable)

	require.NoError(t, g.Free(69))
	assert.Error(t, g.Free(69))

	_, ok = g.Holder(69)
	assert.False(t, ok)
}

func TestGPIO_Unavailable(t *testing.T) {
	g := newGPIO(fakePins())

	for _, id := range []hal.LineID{hal.NoLine, 3} {
		_, err := g.Request(id, "x")
		assert.ErrorIs(t, err, pkg.ErrLineUnavailable, "line %d", id)
	}
}

func TestGPIO_PowerLineDriven(t *testing.T) {
	g := newGPIO(fakePins())

	power, err := g.Request(155, "sdhci0_power")
	require.NoError(t, err)
	require.NoError(t, power.Out(gpio.High))
	assert.Equal(t, gpio.High, power.Read())
}

// =============================================================================
// Platform Tests
// =============================================================================

func TestOpen_RequiresBase(t *testing.T) {
	_, err := Open(Options{})
	assert.ErrorIs(t, err, pkg.ErrMissingConfig)
}

func TestPlatform_HAL(t *testing.T) {
	p := &Platform{
		Window:     newWindow(make([]byte, WindowSize)),
		GPIO:       newGPIO(fakePins()),
		Regulators: NewRegulators(t.TempDir()),
		Clocks:     NewClocks(t.TempDir(), "sdmmc1"),
	}
	h := p.HAL()
	assert.Same(t, p.Window, h.Registers)
	assert.Same(t, p.GPIO, h.GPIO)
	assert.NoError(t, p.Close())
}
