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

package global

import (
	"context"

	"github.com/awslabs/cldc-inflater/catalog"
	"github.com/awslabs/cldc-inflater/config"
	"github.com/urfave/cli"
)

// Global flags for the inflater CLI

const (
	ConfigFlag   = "config"
	CatalogFlag  = "catalog"
	LogLevelFlag = "log-level"
	TimeoutFlag  = "timeout"
)

// logLevel of Debug or Trace may emit sensitive information
// e.g. resource names and archive paths
var Flags = []cli.Flag{
	cli.StringFlag{
		Name:  ConfigFlag + ", c",
		Usage: "path to the configuration file",
		Value: config.DefaultConfigPath,
	},
	cli.StringFlag{
		Name:   CatalogFlag,
		Usage:  "path to the resource catalog, overriding the configuration file",
		EnvVar: "CLDC_CATALOG",
	},
	cli.StringFlag{
		Name:  LogLevelFlag,
		Usage: "set the logging level [trace, debug, info, warn, error, fatal, panic]",
		Value: "warn",
	},
	cli.DurationFlag{
		Name:  TimeoutFlag,
		Usage: "timeout for commands",
	},
}

// LoadConfig reads the configuration file and applies flag overrides.
func LoadConfig(cliContext *cli.Context) (*config.Config, error) {
	cfg, err := config.NewConfigFromToml(cliContext.GlobalString(ConfigFlag))
	if err != nil {
		return nil, err
	}
	if p := cliContext.GlobalString(CatalogFlag); p != "" {
		cfg.CatalogPath = p
	}
	return cfg, nil
}

// OpenCatalog loads the configuration and opens the catalog it names.
func OpenCatalog(cliContext *cli.Context) (*config.Config, *catalog.DB, error) {
	cfg, err := LoadConfig(cliContext)
	if err != nil {
		return nil, nil, err
	}
	db, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

// Context returns a context bounded by the global timeout, if one is set.
func Context(cliContext *cli.Context) (context.Context, context.CancelFunc) {
	ctx := context.Background()
	if t := cliContext.GlobalDuration(TimeoutFlag); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}
