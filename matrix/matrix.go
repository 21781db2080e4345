// Package matrix defines the page and device descriptors of a visual
// regression run and flattens them into the page×device capture matrix.
package matrix

import (
	"fmt"
	"sort"
	"strings"
)

// Separator joins page and device names in screenshot filenames.
const Separator = "-"

// Viewport is a device screen size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// PageDescriptor is one page of the site under test. Name is unique within
// a category and is the page identity.
type PageDescriptor struct {
	Name        string `yaml:"name" json:"name"`
	Path        string `yaml:"path" json:"path"`
	Description string `yaml:"description" json:"description"`
	Category    string `yaml:"category,omitempty" json:"category"`
}

// DeviceProfile is an emulated device.
type DeviceProfile struct {
	Name        string   `yaml:"name" json:"name"`
	Viewport    Viewport `yaml:"viewport" json:"viewport"`
	UserAgent   string   `yaml:"user_agent" json:"userAgent"`
	Mobile      bool     `yaml:"mobile,omitempty" json:"mobile,omitempty"`
	ScaleFactor float64  `yaml:"scale_factor,omitempty" json:"scaleFactor,omitempty"`
}

// Mode selects one of the two capture passes.
type Mode string

const (
	ModeBefore Mode = "before"
	ModeAfter  Mode = "after"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBefore:
		return ModeBefore, nil
	case ModeAfter:
		return ModeAfter, nil
	}
	return "", fmt.Errorf("matrix: invalid mode %q (want before or after)", s)
}

// Cell pairs one page with one device.
type Cell struct {
	Page   PageDescriptor
	Device DeviceProfile
}

// Key is the filename stem shared by the screenshot and its diff image.
func (c Cell) Key() string {
	return c.Page.Name + Separator + c.Device.Name
}

// Filename returns the screenshot filename for the given extension.
func (c Cell) Filename(ext string) string {
	return c.Key() + "." + strings.TrimPrefix(ext, ".")
}

// Matrix is the ordered cross product of pages and devices, page-major.
type Matrix struct {
	Pages   []PageDescriptor
	Devices []DeviceProfile
	Cells   []Cell
}

// Len returns the number of cells.
func (m Matrix) Len() int { return len(m.Cells) }

// Build crosses pages with devices. Two cells that would produce the same
// screenshot filename are rejected: "a-b"×"c" and "a"×"b-c" both map to
// "a-b-c" and would overwrite each other on disk.
func Build(pages []PageDescriptor, devices []DeviceProfile) (Matrix, error) {
	if len(devices) == 0 {
		return Matrix{}, fmt.Errorf("matrix: no devices")
	}
	seenDev := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.Name == "" {
			return Matrix{}, fmt.Errorf("matrix: device without name")
		}
		if seenDev[d.Name] {
			return Matrix{}, fmt.Errorf("matrix: duplicate device %q", d.Name)
		}
		seenDev[d.Name] = true
	}

	m := Matrix{
		Pages:   pages,
		Devices: devices,
		Cells:   make([]Cell, 0, len(pages)*len(devices)),
	}
	owner := make(map[string]Cell, cap(m.Cells))
	for _, p := range pages {
		if p.Name == "" {
			return Matrix{}, fmt.Errorf("matrix: page without name (path %q)", p.Path)
		}
		for _, d := range devices {
			c := Cell{Page: p, Device: d}
			if prev, dup := owner[c.Key()]; dup {
				return Matrix{}, fmt.Errorf("matrix: %q×%q collides with %q×%q on filename %q",
					p.Name, d.Name, prev.Page.Name, prev.Device.Name, c.Key())
			}
			owner[c.Key()] = c
			m.Cells = append(m.Cells, c)
		}
	}
	return m, nil
}

// Flatten turns a category → pages catalog into a single page list.
// Categories are visited in name order; each page inherits its category.
func Flatten(catalog map[string][]PageDescriptor) []PageDescriptor {
	cats := make([]string, 0, len(catalog))
	for c := range catalog {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var out []PageDescriptor
	for _, c := range cats {
		for _, p := range catalog[c] {
			p.Category = c
			out = append(out, p)
		}
	}
	return out
}

// SplitFilename recovers page and device from a screenshot filename by
// taking the last separator-delimited token as the device. It is ambiguous
// when device names contain the separator; prefer the sidecar index.
func SplitFilename(filename string) (page, device string) {
	stem := filename
	if i := strings.LastIndex(stem, "."); i > 0 {
		stem = stem[:i]
	}
	i := strings.LastIndex(stem, Separator)
	if i < 0 {
		return stem, ""
	}
	return stem[:i], stem[i+len(Separator):]
}
