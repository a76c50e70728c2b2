package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Fs is prepended to every path opened by the loader.
	Fs            string        `yaml:"fs"`
	ElfPath       string        `yaml:"elf_path"`
	KallsymsPath  string        `yaml:"kallsyms_path"`
	Base          uint64        `yaml:"base"`
	Demangle      bool          `yaml:"demangle"`
	MiniDebugInfo bool          `yaml:"mini_debug_info"`
	CacheSize     int           `yaml:"cache_size"`
	ClassesFile   string        `yaml:"classes_file"`
	ScriptTimeout time.Duration `yaml:"script_timeout"`
}

func defaultConfig() Config {
	return Config{
		MiniDebugInfo: true,
		CacheSize:     16,
		ScriptTimeout: 30 * time.Second,
	}
}

func (cfg *Config) Validate() error {
	if cfg.ElfPath == "" && cfg.KallsymsPath == "" {
		return errors.New("one of elf_path or kallsyms_path is required")
	}
	if cfg.ElfPath != "" && cfg.KallsymsPath != "" {
		return errors.New("elf_path and kallsyms_path are mutually exclusive")
	}
	if cfg.CacheSize < 0 {
		return fmt.Errorf("invalid cache_size value %d, must not be negative", cfg.CacheSize)
	}
	if cfg.ScriptTimeout < 0 {
		return fmt.Errorf("invalid script_timeout value %s, must not be negative", cfg.ScriptTimeout)
	}
	return nil
}

// loadConfig reads path on top of the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// flagOverrides holds command line values that take precedence over the
// config file when set.
type flagOverrides struct {
	fs          string
	elf         string
	kallsyms    string
	base        uint64
	demangle    bool
	classesFile string
}

func (o flagOverrides) apply(cfg *Config) {
	if o.fs != "" {
		cfg.Fs = o.fs
	}
	// a source given on the command line replaces the configured one
	if o.elf != "" || o.kallsyms != "" {
		cfg.ElfPath = o.elf
		cfg.KallsymsPath = o.kallsyms
	}
	if o.base != 0 {
		cfg.Base = o.base
	}
	if o.demangle {
		cfg.Demangle = true
	}
	if o.classesFile != "" {
		cfg.ClassesFile = o.classesFile
	}
}
