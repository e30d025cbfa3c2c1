// Package linux provides the controller's platform services on Linux from
// user space.
//
// It is meant for bring-up and probing on boards where the kernel's own
// SDHCI driver is not bound to the controller. Every service is pure Go
// with no cgo dependencies.
//
// # Requirements
//
// The process needs:
//   - read/write access to /dev/mem for the register window
//   - access to the GPIO character device or sysfs GPIO nodes
//   - read access to /sys/class/regulator and, for clocks, a mounted
//     debugfs at /sys/kernel/debug
//
// In practice this means running as root.
//
// # Architecture
//
//   - [Window] maps the controller's register block from /dev/mem and
//     performs one load or store per access.
//   - [GPIO] resolves lines through periph.io (sysfs pins first, then the
//     gpioreg registry) and tracks reservations itself.
//   - [Regulators] reads supply constraints and state from sysfs and
//     switches rails that expose a writable state attribute.
//   - [Clocks] reads rates and enable counts from the common clock
//     framework's debugfs tree.
//
// [Open] wires all four into a [hal.Platform].
package linux
