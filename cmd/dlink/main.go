// Command dlink loads a symbol map and one or more module images against
// it, reporting load/resolve failures the way the library itself
// classifies them. It exists to exercise dlink from outside its own test
// suite, not as a replacement for embedding the package directly.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/opendl/dlink"
	"github.com/xyproto/env/v2"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dlink:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("dlink", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML manifest (required unless -map is given)")
	mapPath := fs.String("map", env.Str("DLINK_MAP"), "path to the symbol map file (overrides the manifest)")
	mode := fs.String("mode", env.Str("DLINK_MODE"), "resolution mode for every module: lazy or now (overrides the manifest)")
	var modulePaths stringList
	fs.Var(&modulePaths, "module", "module image to load (repeatable; overrides the manifest's modules)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := resolveConfig(*configPath, *mapPath, *mode, modulePaths)
	if err != nil {
		return err
	}

	logger := slog.Default()
	loader := dlink.MmapLoader{}

	count, err := dlink.LoadMap(cfg.MapPath, loader)
	if err != nil {
		return fmt.Errorf("loading symbol map %q: %w", cfg.MapPath, err)
	}
	logger.Info("loaded symbol map", "path", cfg.MapPath, "symbols", count)

	for _, entry := range cfg.Modules {
		m, err := dlink.Open(entry.Path, parseMode(entry.Mode), loader)
		if err != nil {
			return fmt.Errorf("loading module %q: %w", entry.Path, err)
		}
		logger.Info("loaded module", "path", entry.Path, "mode", entry.Mode)
		if dlink.Verbose {
			if addr, err := m.Sym("__CTOR_LIST__"); err == nil {
				logger.Debug("module has constructors", "path", entry.Path, "ctor_list", addr)
			}
		}
		defer m.Close()
	}
	return nil
}

func resolveConfig(configPath, mapOverride, modeOverride string, moduleOverrides stringList) (*Config, error) {
	var cfg Config
	if configPath != "" {
		loaded, err := LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	} else {
		applyDefaults(&cfg)
	}

	if mapOverride != "" {
		cfg.MapPath = mapOverride
	}
	if modeOverride != "" {
		cfg.Mode = modeOverride
		for i := range cfg.Modules {
			cfg.Modules[i].Mode = modeOverride
		}
	}
	if len(moduleOverrides) > 0 {
		cfg.Modules = nil
		for _, p := range moduleOverrides {
			cfg.Modules = append(cfg.Modules, ModuleEntry{Path: p, Mode: cfg.Mode})
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseMode(s string) dlink.Mode {
	if s == "now" {
		return dlink.Now
	}
	return dlink.Lazy
}

// stringList accumulates repeated -module flags.
type stringList []string

func (l *stringList) String() string { return fmt.Sprint(*l) }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}
