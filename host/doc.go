// Package host implements the platform adaptation layer of an SDHCI
// host controller: the glue a hardware-specific driver places beneath a
// generic SD/MMC controller core.
//
// It is platform-agnostic and reaches hardware only through the services of
// [hal.Platform] defined in the github.com/ardnew/softmmc/host/hal package.
//
// # Architecture
//
// The package is organized around four mechanisms:
//
//   - Resource lifecycle: [Acquire] claims the power line, card-detect line
//     and its interrupt, write-protect line, I/O and slot regulators and the
//     input clock in that order, unwinding in reverse on any failure.
//     [Controller.Release] unwinds a live instance the same way.
//   - Clock control: [Controller.SetClock] gates the input clock and
//     programs the card-clock divider, using a chip-specific sequence
//     chosen once at acquisition.
//   - Presence detection: card-detect edges are handed to a deferred
//     worker that debounces insertions and reports each change once
//     through a [Notifier].
//   - Register shim: [Shim] sits between the controller core and the
//     register window and papers over register defects.
//
// # Chip Generations
//
//   - [ChipTegra2]: power-of-two divisor in the legacy 8-bit field
//   - [ChipTegra3]: even divisor in the split 10-bit field, started with
//     the pad-pipe override and dummy-write stabilization sequence
//
// # Concurrency
//
// Each Controller serializes clock changes, bus-width changes, register
// sessions ([Controller.Exclusive]) and presence evaluation on one mutex.
// The card-detect watcher never takes that lock; it only posts to the
// worker. Notifications are delivered from the worker after the lock is
// dropped, so a Notifier may call back into the Controller.
//
// # Example
//
//	cfg := host.DefaultConfig("sdhci0")
//	cfg.Chip = host.ChipTegra3
//	cfg.CardDetectLine = 69
//
//	ctrl, err := host.Acquire(cfg, platform, host.NotifierFunc(func(present bool) {
//		log.Printf("card present: %v", present)
//	}))
//	if err != nil {
//		var se *host.StepError
//		if errors.As(err, &se) {
//			log.Printf("failed at %s", se.Step)
//		}
//		return err
//	}
//	defer ctrl.Release()
//
//	ctrl.SetClock(host.MinIdentificationClock)
package host
