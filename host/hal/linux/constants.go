package linux

// =============================================================================
// Register Window
// =============================================================================

// WindowSize is the size of one SDHCI register block including the vendor
// area. Tegra controllers are spaced 0x200 apart.
const WindowSize = 0x200

// DevMemPath is the physical memory device.
const DevMemPath = "/dev/mem"

// =============================================================================
// System Paths
// =============================================================================

// SysfsRegulatorPath is the base path for regulators in sysfs.
const SysfsRegulatorPath = "/sys/class/regulator"

// DebugfsClockPath is the base path for the common clock framework in debugfs.
const DebugfsClockPath = "/sys/kernel/debug/clk"

// Regulator attribute names under SysfsRegulatorPath/regulator.N.
const (
	attrRegName      = "name"
	attrRegState     = "state"
	attrRegMicrovolt = "microvolts"
	attrRegMinUV     = "min_microvolts"
	attrRegMaxUV     = "max_microvolts"
)

// Clock attribute names under DebugfsClockPath/<clock>.
const (
	attrClkRate        = "clk_rate"
	attrClkEnableCount = "clk_enable_count"
)

// Regulator state attribute values.
const (
	stateEnabled  = "enabled"
	stateDisabled = "disabled"
)

// SysfsPathMaxLen is the maximum length of a sysfs path.
const SysfsPathMaxLen = 256
