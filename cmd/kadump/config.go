package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// config holds kadump settings. A YAML file supplies defaults; flags that
// were set explicitly on the command line win.
type config struct {
	Format   string `yaml:"format"`
	Root     string `yaml:"root"`
	All      bool   `yaml:"all"`
	Classes  bool   `yaml:"classes"`
	Dump     bool   `yaml:"dump"`
	Index    string `yaml:"index"`
	RootKey  string `yaml:"root_key"`
	MaxDepth int    `yaml:"max_depth"`
	Verbose  bool   `yaml:"verbose"`
}

func defaultConfig() config {
	return config{Format: "json"}
}

func (c *config) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Format, "format", "f", c.Format, "output format: cbor, json, msgpack or yaml")
	fs.StringVarP(&c.Root, "root", "r", c.Root, "print this $top entry instead of the root")
	fs.BoolVarP(&c.All, "all", "a", c.All, "print every $top entry")
	fs.BoolVar(&c.Classes, "classes", c.Classes, "list class usage instead of printing objects")
	fs.BoolVar(&c.Dump, "dump", c.Dump, "print the raw object arena")
	fs.StringVar(&c.Index, "index", c.Index, "add the files to the catalog database at this path")
	fs.StringVar(&c.RootKey, "root-key", c.RootKey, "name of the root $top entry (default \"root\")")
	fs.IntVar(&c.MaxDepth, "max-depth", c.MaxDepth, "reference resolution depth limit")
	fs.BoolVarP(&c.Verbose, "verbose", "v", c.Verbose, "log debug diagnostics to stderr")
}

// loadConfig reads path into a copy of base.
func loadConfig(path string, base config) (config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// overlay copies every flag that was set on the command line from flags
// into cfg.
func overlay(cfg *config, flags *config, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "format":
			cfg.Format = flags.Format
		case "root":
			cfg.Root = flags.Root
		case "all":
			cfg.All = flags.All
		case "classes":
			cfg.Classes = flags.Classes
		case "dump":
			cfg.Dump = flags.Dump
		case "index":
			cfg.Index = flags.Index
		case "root-key":
			cfg.RootKey = flags.RootKey
		case "max-depth":
			cfg.MaxDepth = flags.MaxDepth
		case "verbose":
			cfg.Verbose = flags.Verbose
		}
	})
}
