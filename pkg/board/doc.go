// Package board turns board descriptions into controller configurations.
//
// Two sources are supported. A YAML board file lists the controllers of a
// board together with the supplies and clocks it provides, which is what
// the simulator needs to build a platform. A flattened device tree (DTB)
// is what real hardware ships with; [FromFDT] reads every enabled Tegra
// SDHCI node out of it.
//
// Both produce [host.Config] values ready for [host.Acquire].
//
// # Board files
//
//	controllers:
//	  - name: sdhci0
//	    chip: tegra3
//	    card_detect_line: 69
//	    write_protect_line: 57
//	    power_line: 155
//	    bus_width: 4
//	    settle_delay: 2.5s
//	  - name: emmc
//	    chip: tegra3
//	    bus_width: 8
//	    built_in: true
//	supplies:
//	  - name: vddio_sdmmc
//	    min_uv: 1800000
//	    max_uv: 3300000
//	clocks:
//	  - name: sdmmc1
//	    hz: 48000000
package board
