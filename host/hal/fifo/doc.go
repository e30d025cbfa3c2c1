// Package fifo provides a card-detect line driven through a named pipe.
//
// It lets a separate process play the part of a user inserting and
// removing media while the controller runs against a simulated or real
// register window. The line implements [hal.Line]; [GPIO] overlays one or
// more such lines on top of another [hal.GPIO] so the rest of the board
// keeps its own lines.
//
// # Architecture
//
//	/tmp/sdhci/                # Slot directory
//	├── sdhci0-cd              # Card-detect FIFO for sdhci0
//	└── sdhci1-cd              # Card-detect FIFO for sdhci1
//
// The line creates its FIFO on Open if it does not exist and keeps it open
// read-write, so writers never block and the reader never sees EOF when a
// writer goes away.
//
// # Protocol
//
// Every byte written to the FIFO is one switch event:
//
//   - 0x01 or '1': card inserted
//   - 0x00 or '0': card removed
//
// Anything else (such as the newline from echo) is ignored. The line maps
// "inserted" to the level an active-low switch produces, Low, unless the
// line was created with ActiveHigh.
//
// # Usage
//
//	cd := fifo.NewLine("/tmp/sdhci/sdhci0-cd", fifo.Options{})
//	if err := cd.Open(); err != nil {
//	    log.Fatal(err)
//	}
//	defer cd.Close()
//
//	gpio := fifo.NewGPIO(platform.GPIO)
//	gpio.Attach(69, cd)
//	platform.GPIO = gpio
//
// From a shell:
//
//	echo 1 > /tmp/sdhci/sdhci0-cd   # insert
//	echo 0 > /tmp/sdhci/sdhci0-cd   # remove
package fifo
