//go:build linux

package linux

import (
	"fmt"
	"sync"

	"periph.io/x/host/v3"

	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads periph's host drivers. It is safe to call more than once.
func Init() error {
	initOnce.Do(func() {
		state, err := host.Init()
		if err != nil {
			initErr = fmt.Errorf("periph host init: %w", err)
			return
		}
		for _, d := range state.Loaded {
			pkg.LogDebug(pkg.ComponentHAL, "periph driver loaded", "driver", d.String())
		}
		for _, f := range state.Failed {
			pkg.LogDebug(pkg.ComponentHAL, "periph driver failed", "driver", f.D.String(), "error", f.Err)
		}
	})
	return initErr
}

// Options selects the hardware for one controller.
type Options struct {
	// Base is the physical address of the register block.
	Base uintptr

	// Clock names the default input clock in debugfs ("sdmmc1").
	Clock string

	// RegulatorRoot overrides SysfsRegulatorPath.
	RegulatorRoot string

	// ClockRoot overrides DebugfsClockPath.
	ClockRoot string
}

// Platform is an opened set of Linux platform services.
type Platform struct {
	Window     *Window
	GPIO       *GPIO
	Regulators *Regulators
	Clocks     *Clocks
}

// Open maps the register window and prepares the other services.
func Open(opts Options) (*Platform, error) {
	if opts.Base == 0 {
		return nil, fmt.Errorf("%w: register base", pkg.ErrMissingConfig)
	}
	if err := Init(); err != nil {
		return nil, err
	}

	w, err := OpenWindow(opts.Base)
	if err != nil {
		return nil, err
	}

	regRoot := opts.RegulatorRoot
	if regRoot == "" {
		regRoot = SysfsRegulatorPath
	}
	clkRoot := opts.ClockRoot
	if clkRoot == "" {
		clkRoot = DebugfsClockPath
	}

	return &Platform{
		Window:     w,
		GPIO:       NewGPIO(),
		Regulators: NewRegulators(regRoot),
		Clocks:     NewClocks(clkRoot, opts.Clock),
	}, nil
}

// HAL returns the services as a hal.Platform.
func (p *Platform) HAL() hal.Platform {
	return hal.Platform{
		Registers:  p.Window,
		GPIO:       p.GPIO,
		Regulators: p.Regulators,
		Clocks:     p.Clocks,
	}
}

// Close unmaps the register window.
func (p *Platform) Close() error {
	return p.Window.Close()
}
