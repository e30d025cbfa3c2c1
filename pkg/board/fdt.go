package board

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/u-root/u-root/pkg/dt"

	"github.com/ardnew/softmmc/host"
	"github.com/ardnew/softmmc/host/hal"
	"github.com/ardnew/softmmc/pkg"
)

// Compatible strings of the SDHCI nodes FromFDT understands, most specific
// first.
var compatible = []struct {
	name string
	chip host.Chip
}{
	{"nvidia,tegra30-sdhci", host.ChipTegra3},
	{"nvidia,tegra20-sdhci", host.ChipTegra2},
}

// GPIO specifier flag: the line is active low.
const gpioActiveLow = 0x1

// ReadFDT decodes a flattened device tree.
func ReadFDT(r io.ReadSeeker) (*dt.FDT, error) {
	fdt, err := dt.ReadFDT(r)
	if err != nil {
		return nil, &LoadError{Message: "failed to parse device tree", Cause: err}
	}
	return fdt, nil
}

// LoadFDT reads the DTB at path and converts every enabled SDHCI node.
func LoadFDT(path string) ([]host.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	fdt, err := ReadFDT(bytes.NewReader(data))
	if err == nil {
		var cfgs []host.Config
		if cfgs, err = FromFDT(fdt); err == nil {
			return cfgs, nil
		}
	}
	if le, ok := err.(*LoadError); ok {
		le.File = path
	}
	return nil, err
}

// located is a node with its absolute path.
type located struct {
	path string
	node *dt.Node
}

// FromFDT returns one configuration per enabled Tegra SDHCI node, in tree
// order. Instances are named by their /aliases entry when one exists
// ("mmc0"), otherwise by node name.
//
// Lines are GPIO specifier pin numbers; regulators are named by the
// referenced node's regulator-name. Properties with no counterpart are
// ignored.
func FromFDT(fdt *dt.FDT) ([]host.Config, error) {
	if fdt == nil || fdt.RootNode == nil {
		return nil, &LoadError{Message: "empty device tree", Cause: pkg.ErrMissingConfig}
	}

	var nodes []located
	collect(fdt.RootNode, "", &nodes)

	phandles := make(map[dt.PHandle]*dt.Node)
	aliases := make(map[string]string)
	for _, l := range nodes {
		if p, ok := l.node.LookProperty("phandle"); ok {
			if ph, err := p.AsPHandle(); err == nil {
				phandles[ph] = l.node
			}
		}
		if l.path == "/aliases" {
			for _, prop := range l.node.Properties {
				aliases[cString(prop.Value)] = prop.Name
			}
		}
	}

	var cfgs []host.Config
	for _, l := range nodes {
		chip, ok := chipOf(l.node)
		if !ok || !enabled(l.node) {
			continue
		}

		name := l.node.Name
		if a, ok := aliases[l.path]; ok {
			name = a
		}
		cfg, err := nodeConfig(name, chip, l.node, phandles)
		if err != nil {
			return nil, &LoadError{Message: "node " + l.path, Cause: err}
		}
		if err := cfg.Validate(); err != nil {
			return nil, &LoadError{Message: "node " + l.path, Cause: err}
		}

		pkg.LogDebug(pkg.ComponentBoard, "device tree controller", "node", l.path,
			"name", cfg.Name, "chip", cfg.Chip)
		cfgs = append(cfgs, cfg)
	}

	if len(cfgs) == 0 {
		return nil, &LoadError{Message: "no enabled SDHCI nodes", Cause: pkg.ErrMissingConfig}
	}
	return cfgs, nil
}

func collect(n *dt.Node, parent string, out *[]located) {
	path := parent + "/" + n.Name
	if parent == "" {
		path = "/"
	} else if parent == "/" {
		path = "/" + n.Name
	}
	*out = append(*out, located{path: path, node: n})
	for _, c := range n.Children {
		collect(c, path, out)
	}
}

func nodeConfig(name string, chip host.Chip, n *dt.Node, phandles map[dt.PHandle]*dt.Node) (host.Config, error) {
	cfg := host.DefaultConfig(name)
	cfg.Chip = chip
	cfg.BusWidth = 1

	if w, ok, err := u32(n, "bus-width"); err != nil {
		return cfg, err
	} else if ok {
		cfg.BusWidth = int(w)
	}

	_, cfg.BuiltIn = n.LookProperty("non-removable")

	var err error
	if cfg.PowerLine, _, err = gpioSpec(n, "power-gpios"); err != nil {
		return cfg, err
	}
	if cfg.WriteProtectLine, _, err = gpioSpec(n, "wp-gpios"); err != nil {
		return cfg, err
	}
	var cdFlags uint32
	if cfg.CardDetectLine, cdFlags, err = gpioSpec(n, "cd-gpios"); err != nil {
		return cfg, err
	}
	cfg.CardDetectActiveHigh = cdFlags&gpioActiveLow == 0
	if _, ok := n.LookProperty("cd-inverted"); ok {
		cfg.CardDetectActiveHigh = !cfg.CardDetectActiveHigh
	}

	if cfg.SlotSupply, err = supply(n, "vmmc-supply", host.DefaultSlotSupply, phandles); err != nil {
		return cfg, err
	}
	if cfg.IOSupply, err = supply(n, "vqmmc-supply", host.DefaultIOSupply, phandles); err != nil {
		return cfg, err
	}
	cfg.NoVReg = cfg.SlotSupply == "" && cfg.IOSupply == ""

	if p, ok := n.LookProperty("clock-names"); ok {
		cfg.Clock = cString(p.Value)
	}
	return cfg, nil
}

func chipOf(n *dt.Node) (host.Chip, bool) {
	p, ok := n.LookProperty("compatible")
	if !ok {
		return 0, false
	}
	list := stringList(p.Value)
	for _, c := range compatible {
		for _, s := range list {
			if s == c.name {
				return c.chip, true
			}
		}
	}
	return 0, false
}

func enabled(n *dt.Node) bool {
	p, ok := n.LookProperty("status")
	if !ok {
		return true
	}
	s := cString(p.Value)
	return s == "okay" || s == "ok"
}

func u32(n *dt.Node, name string) (uint32, bool, error) {
	p, ok := n.LookProperty(name)
	if !ok {
		return 0, false, nil
	}
	v, err := p.AsU32()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", pkg.ErrInvalidParameter, name, err)
	}
	return v, true, nil
}

// gpioSpec decodes a <&controller pin flags> specifier.
func gpioSpec(n *dt.Node, name string) (hal.LineID, uint32, error) {
	p, ok := n.LookProperty(name)
	if !ok {
		return hal.NoLine, 0, nil
	}
	blk, err := p.AsPropEncodedArray()
	if err != nil {
		return hal.NoLine, 0, fmt.Errorf("%w: %s: %v", pkg.ErrInvalidParameter, name, err)
	}
	if len(blk) != 12 {
		return hal.NoLine, 0, fmt.Errorf("%w: %s: specifier is %d bytes, want 12",
			pkg.ErrInvalidParameter, name, len(blk))
	}
	pin := binary.BigEndian.Uint32(blk[4:])
	flags := binary.BigEndian.Uint32(blk[8:])
	return hal.LineID(pin), flags, nil
}

// supply resolves a regulator phandle to its regulator-name. An absent
// property means the rail is not wired.
func supply(n *dt.Node, name, fallback string, phandles map[dt.PHandle]*dt.Node) (string, error) {
	p, ok := n.LookProperty(name)
	if !ok {
		return "", nil
	}
	ph, err := p.AsPHandle()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", pkg.ErrInvalidParameter, name, err)
	}
	reg, ok := phandles[ph]
	if !ok {
		return "", fmt.Errorf("%w: %s: no node with phandle %d", pkg.ErrMissingConfig, name, ph)
	}
	if rn, ok := reg.LookProperty("regulator-name"); ok {
		return cString(rn.Value), nil
	}
	return fallback, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func stringList(b []byte) []string {
	return strings.Split(strings.TrimRight(string(b), "\x00"), "\x00")
}
