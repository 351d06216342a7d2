package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the manifest a dlink invocation reads: one symbol map to load
// and the module images to link against it, in order.
type Config struct {
	// MapPath is the path to the nm-style symbol map file. Required:
	// LoadConfig rejects a manifest without it even when -map or
	// DLINK_MAP is set. Those overrides replace it, and supply it when no
	// manifest is given.
	MapPath string `yaml:"map_path"`

	// Modules lists the module images to load, in order.
	Modules []ModuleEntry `yaml:"modules"`

	// Mode is "lazy" or "now", applied to every module unless a
	// ModuleEntry overrides it. Defaults to "lazy".
	Mode string `yaml:"mode"`
}

// ModuleEntry describes one module image to load.
type ModuleEntry struct {
	// Path is the module image file to load. Required.
	Path string `yaml:"path"`

	// Mode overrides Config.Mode for this module when set.
	Mode string `yaml:"mode,omitempty"`
}

var validModes = map[string]bool{"lazy": true, "now": true}

// LoadConfig reads the YAML manifest at path, applies defaults, and
// validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "lazy"
	}
	for i := range cfg.Modules {
		if cfg.Modules[i].Mode == "" {
			cfg.Modules[i].Mode = cfg.Mode
		}
	}
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.MapPath == "" {
		errs = append(errs, errors.New("map_path is required"))
	}
	if !validModes[cfg.Mode] {
		errs = append(errs, fmt.Errorf("mode %q must be one of: lazy, now", cfg.Mode))
	}
	for i, m := range cfg.Modules {
		if m.Path == "" {
			errs = append(errs, fmt.Errorf("modules[%d]: path is required", i))
		}
		if !validModes[m.Mode] {
			errs = append(errs, fmt.Errorf("modules[%d]: mode %q must be one of: lazy, now", i, m.Mode))
		}
	}
	return errors.Join(errs...)
}
