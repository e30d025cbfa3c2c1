package board

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softmmc/host"
	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// LoadError reports a board description that could not be loaded.
type LoadError struct {
	// File is the path that failed, if any.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error names the file and what went wrong.
func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return msg
	}
	return e.File + ": " + msg
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// File is a parsed YAML board file.
type File struct {
	Controllers []Controller `yaml:"controllers"`
	Supplies    []Supply     `yaml:"supplies,omitempty"`
	Clocks      []Clock      `yaml:"clocks,omitempty"`
}

// Controller describes one SDHCI instance. Absent lines are not wired.
type Controller struct {
	Name  string `yaml:"name"`
	Chip  string `yaml:"chip,omitempty"`
	Clock string `yaml:"clock,omitempty"`

	PowerLine            *int `yaml:"power_line,omitempty"`
	CardDetectLine       *int `yaml:"card_detect_line,omitempty"`
	WriteProtectLine     *int `yaml:"write_protect_line,omitempty"`
	CardDetectActiveHigh bool `yaml:"card_detect_active_high,omitempty"`

	// Supply names. Nil keeps the default name; an empty string means the
	// rail is not wired.
	IOSupply   *string `yaml:"io_supply,omitempty"`
	SlotSupply *string `yaml:"slot_supply,omitempty"`

	IOMinUV int `yaml:"io_min_uv,omitempty"`
	IOMaxUV int `yaml:"io_max_uv,omitempty"`

	BusWidth    int            `yaml:"bus_width,omitempty"`
	BuiltIn     bool           `yaml:"built_in,omitempty"`
	NoVReg      bool           `yaml:"no_vreg,omitempty"`
	SettleDelay *time.Duration `yaml:"settle_delay,omitempty"`
}

// Supply is a voltage regulator the board provides.
type Supply struct {
	Name  string `yaml:"name"`
	MinUV int    `yaml:"min_uv"`
	MaxUV int    `yaml:"max_uv"`
}

// Range returns the supply's reach.
func (s Supply) Range() hal.VoltageRange {
	return hal.VoltageRange{MinUV: s.MinUV, MaxUV: s.MaxUV}
}

// Clock is an input clock the board provides.
type Clock struct {
	Name string `yaml:"name"`
	Hz   int64  `yaml:"hz"`
}

// HostConfig converts the entry to a validated controller configuration.
// Unset fields take the values of host.DefaultConfig.
func (c *Controller) HostConfig() (host.Config, error) {
	cfg := host.DefaultConfig(c.Name)

	if c.Chip != "" {
		chip, err := host.ParseChip(c.Chip)
		if err != nil {
			return host.Config{}, err
		}
		cfg.Chip = chip
	}
	cfg.Clock = c.Clock

	cfg.PowerLine = lineID(c.PowerLine)
	cfg.CardDetectLine = lineID(c.CardDetectLine)
	cfg.WriteProtectLine = lineID(c.WriteProtectLine)
	cfg.CardDetectActiveHigh = c.CardDetectActiveHigh

	if c.IOSupply != nil {
		cfg.IOSupply = *c.IOSupply
	}
	if c.SlotSupply != nil {
		cfg.SlotSupply = *c.SlotSupply
	}
	if c.IOMinUV != 0 {
		cfg.IOVoltage.MinUV = c.IOMinUV
	}
	if c.IOMaxUV != 0 {
		cfg.IOVoltage.MaxUV = c.IOMaxUV
	}

	if c.BusWidth != 0 {
		cfg.BusWidth = c.BusWidth
	}
	cfg.BuiltIn = c.BuiltIn
	cfg.NoVReg = c.NoVReg
	if c.SettleDelay != nil {
		cfg.SettleDelay = *c.SettleDelay
	}

	if err := cfg.Validate(); err != nil {
		return host.Config{}, err
	}
	return cfg, nil
}

func lineID(p *int) hal.LineID {
	if p == nil {
		return hal.NoLine
	}
	return hal.LineID(*p)
}

// Configs converts every controller in the file.
func (f *File) Configs() ([]host.Config, error) {
	out := make([]host.Config, 0, len(f.Controllers))
	for i := range f.Controllers {
		cfg, err := f.Controllers[i].HostConfig()
		if err != nil {
			return nil, &LoadError{
				Message: fmt.Sprintf("controller %d (%q)", i, f.Controllers[i].Name),
				Cause:   err,
			}
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Parse decodes a YAML board file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if len(f.Controllers) == 0 {
		return nil, &LoadError{Message: "board has no controllers", Cause: pkg.ErrMissingConfig}
	}

	names := make(map[string]bool, len(f.Controllers))
	for _, c := range f.Controllers {
		if names[c.Name] {
			return nil, &LoadError{
				Message: fmt.Sprintf("duplicate controller %q", c.Name),
				Cause:   pkg.ErrInvalidParameter,
			}
		}
		names[c.Name] = true
	}
	return &f, nil
}

// Load reads and decodes the YAML board file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	f, err := Parse(data)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.File = path
		}
		return nil, err
	}

	pkg.LogDebug(pkg.ComponentBoard, "board loaded", "file", path,
		"controllers", len(f.Controllers))
	return f, nil
}
