// Package sim provides an in-memory [hal.Platform] for exercising the
// host-controller glue without hardware.
//
// Every service records what it was asked to do in a shared [Journal], in
// call order, so tests can assert acquisition and release ordering:
//
//	p := sim.NewPlatform()
//	p.GPIO.Add(69, gpio.High)
//	p.Regulators.Add("vddio_sdmmc", hal.VoltageRange{MinUV: 1800000, MaxUV: 3300000})
//	p.Clocks.Add("sdmmc4", 48*physic.MegaHertz)
//
//	ctrl, err := host.Acquire(cfg, p.HAL(), notifier)
//	...
//	fmt.Println(p.Journal.Entries())
//
// The register file models just enough SDHCI behaviour for clock
// programming: writing the internal-clock-enable bit raises the
// internal-clock-stable bit, optionally after a number of polls or never.
package sim
