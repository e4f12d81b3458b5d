// Package registry supplies the static list of devices the controller drives.
package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	yaml "go.yaml.in/yaml/v3"
)

// ErrRegistry marks failures to read the device list.
var ErrRegistry = errors.New("device registry unavailable")

// TypeIrrigation is the device type driven by station control.
const TypeIrrigation = "irrigation"

// Device is one registered output.
type Device struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Type         string `yaml:"type" json:"type"`
	GPIOPin      int    `yaml:"gpioPin" json:"gpioPin"`
	MaxOnMinutes int    `yaml:"maxOnMinutes" json:"maxOnMinutes"`
	Enabled      bool   `yaml:"enabled" json:"enabled"`
}

// Registry lists devices by type.
type Registry interface {
	DevicesByType(ctx context.Context, typ string) ([]Device, error)
}

// Static is an in-memory Registry.
type Static []Device

// DevicesByType implements Registry.
func (s Static) DevicesByType(_ context.Context, typ string) ([]Device, error) {
	var out []Device
	for _, d := range s {
		if d.Type == typ {
			out = append(out, d)
		}
	}
	return out, nil
}

// FileRegistry reads devices from a YAML or JSON file on every call.
// JSON is valid YAML, so one decoder handles both.
type FileRegistry struct {
	Path string
}

type deviceFile struct {
	Devices []Device `yaml:"devices"`
}

// DevicesByType implements Registry.
func (r FileRegistry) DevicesByType(ctx context.Context, typ string) ([]Device, error) {
	devs, err := r.load()
	if err != nil {
		return nil, err
	}
	return Static(devs).DevicesByType(ctx, typ)
}

func (r FileRegistry) load() ([]Device, error) {
	b, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read devices %s", r.Path), ErrRegistry)
	}

	var devs []Device
	ext := strings.ToLower(filepath.Ext(r.Path))
	trimmed := strings.TrimSpace(string(b))
	if ext == ".json" || strings.HasPrefix(trimmed, "[") {
		// bare list, as written by earlier releases
		err = yaml.Unmarshal(b, &devs)
	} else {
		var f deviceFile
		err = yaml.Unmarshal(b, &f)
		devs = f.Devices
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse devices %s", r.Path), ErrRegistry)
	}

	seen := make(map[string]bool, len(devs))
	for i, d := range devs {
		if strings.TrimSpace(d.ID) == "" {
			return nil, errors.Mark(errors.Newf("device %d: id is required", i), ErrRegistry)
		}
		if seen[d.ID] {
			return nil, errors.Mark(errors.Newf("device %q: duplicate id", d.ID), ErrRegistry)
		}
		if d.MaxOnMinutes < 0 {
			return nil, errors.Mark(errors.Newf("device %q: maxOnMinutes must be >= 0", d.ID), ErrRegistry)
		}
		seen[d.ID] = true
	}
	return devs, nil
}
