// Package hal defines the platform services an SD/MMC host-controller glue
// layer consumes.
//
// The adaptation core in [github.com/ardnew/softmmc/host] never touches
// hardware directly. It asks a [Platform] for:
//   - a [Registers] window onto the controller's MMIO block
//   - a [GPIO] service that reserves I/O lines by number under a label
//   - a [Regulators] service handing out supply handles by consumer name
//   - a [Clocks] service handing out the controller's input clock
//
// # Design Principles
//
// The HAL is intentionally narrow:
//   - Minimal: only the operations the glue performs during bring-up,
//     clock gating and media detection
//   - Generic: lines use periph's gpio.Level, gpio.Pull and gpio.Edge, rates
//     use physic.Frequency, so periph pins plug in unchanged
//   - Distinct failures: every lookup wraps one of the pkg sentinels so the
//     core can tell "absent" from "busy" from "rejected"
//
// # Implementations
//
//   - [github.com/ardnew/softmmc/host/hal/sim]: in-memory platform with an
//     operation journal, used by tests and the simulator
//   - [github.com/ardnew/softmmc/host/hal/fifo]: a card-detect line driven
//     through a named pipe
//   - [github.com/ardnew/softmmc/host/hal/linux]: /dev/mem registers,
//     periph GPIO, sysfs regulators and debugfs clocks
package hal
