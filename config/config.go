/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	// DefaultCatalogPath is the default filesystem path of the resource catalog.
	DefaultCatalogPath = "/var/lib/cldc-inflater/catalog.db"

	// DefaultConfigPath is the default filesystem path for the inflater configuration file.
	DefaultConfigPath = "/etc/cldc-inflater/config.toml"
)

type Config struct {
	// CatalogPath is the path of the bbolt resource catalog.
	CatalogPath string `toml:"catalog_path"`

	// MetricsAddress is address for the metrics API
	MetricsAddress string `toml:"metrics_address"`

	// MetricsNetwork is the type of network for the metrics API (e.g. tcp or unix)
	MetricsNetwork string `toml:"metrics_network"`

	// NoPrometheus is a flag to disable the emission of the metrics
	NoPrometheus bool `toml:"no_prometheus"`

	InflateConfig `toml:"inflate"`
	LoaderConfig  `toml:"loader"`
}

type configParser func(*Config) error

var parsers = []configParser{parseRootConfig, parseInflateConfig, parseLoaderConfig}

// NewConfig returns an initialized Config with default values set.
func NewConfig() *Config {
	cfg := &Config{}

	// Set any defaults which do not align with Go zero values.
	var initParsers = []configParser{defaultInflateConfig, defaultLoaderConfig}
	for _, p := range append(initParsers, parsers...) {
		p(cfg)
	}

	return cfg
}

func NewConfigFromToml(cfgPath string) (*Config, error) {
	f, err := os.Open(cfgPath)
	if err != nil {
		if os.IsNotExist(err) && cfgPath == DefaultConfigPath {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to open config file %q: %w", cfgPath, err)
	}
	defer f.Close()

	cfg := NewConfig()
	// Get configuration from specified file
	if err = toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file %q: %w", cfgPath, err)
	}
	if err := parseConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %q: %w", cfgPath, err)
	}
	return cfg, nil
}

func parseConfig(cfg *Config) error {
	for _, p := range parsers {
		if err := p(cfg); err != nil {
			return err
		}
	}
	return nil
}

func parseRootConfig(cfg *Config) error {
	if cfg.MetricsNetwork == "" {
		cfg.MetricsNetwork = defaultMetricsNetwork
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = DefaultCatalogPath
	}
	return nil
}
