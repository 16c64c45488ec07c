// Package config handles sigscan.toml settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/sansecio/sigscan/memory"
	"github.com/sansecio/sigscan/scanner"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "sigscan.toml"

// Config represents a sigscan.toml file.
type Config struct {
	Scan  Scan  `toml:"scan"`
	Image Image `toml:"image"`
	Log   Log   `toml:"log"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

// Scan configures the scanner.
type Scan struct {
	Workers       int    `toml:"workers"`
	PartitionSize int    `toml:"partition_size"`
	MaxResults    int    `toml:"max_results"`
	Strategy      string `toml:"strategy"`
}

// Image configures how input files are mapped.
type Image struct {
	Base        uint64 `toml:"base"`
	AddressSize int    `toml:"address_size"`
	Arch        string `toml:"arch"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Scan.PartitionSize == 0 {
		c.Scan.PartitionSize = scanner.DefaultPartitionSize
	}
	if c.Scan.MaxResults == 0 {
		c.Scan.MaxResults = scanner.DefaultMaxResults
	}
	if c.Scan.Strategy == "" {
		c.Scan.Strategy = scanner.Skip.String()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Load parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := c.validate(md); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c.Path = path
	c.applyDefaults()
	return &c, nil
}

// validate reports every problem in the decoded file at once.
func (c *Config) validate(md toml.MetaData) error {
	var errs []error
	for _, key := range md.Undecoded() {
		errs = append(errs, fmt.Errorf("unknown key %s", key))
	}
	if _, err := scanner.ParseStrategy(c.Scan.Strategy); err != nil {
		errs = append(errs, err)
	}
	switch c.Image.AddressSize {
	case 0, 4, 8:
	default:
		errs = append(errs, fmt.Errorf("address_size must be 4 or 8, got %d", c.Image.AddressSize))
	}
	return errors.Join(errs...)
}

// FindAndLoad walks up from startDir to find sigscan.toml and loads it.
// Without a file it returns Default().
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// ScanOptions converts the [scan] section.
func (c *Config) ScanOptions() (scanner.Options, error) {
	s, err := scanner.ParseStrategy(c.Scan.Strategy)
	if err != nil {
		return scanner.Options{}, err
	}
	return scanner.Options{
		Strategy:      s,
		Workers:       c.Scan.Workers,
		PartitionSize: c.Scan.PartitionSize,
		MaxResults:    c.Scan.MaxResults,
	}, nil
}

// OpenOptions converts the [image] section.
func (c *Config) OpenOptions() memory.OpenOptions {
	return memory.OpenOptions{
		Base:        c.Image.Base,
		AddressSize: c.Image.AddressSize,
		Arch:        memory.Arch(c.Image.Arch),
	}
}
