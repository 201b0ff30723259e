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

package main

import (
	"fmt"
	"os"

	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands"
	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/catalog"
	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/global"
	"github.com/containerd/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "cldc-inflater"
	app.Usage = "decode DEFLATE-compressed resources from archives and ROM images"
	app.Flags = global.Flags
	app.Commands = []cli.Command{
		catalog.Command,
		commands.DecodeCommand,
		commands.StreamCommand,
		commands.PreloadCommand,
		commands.BenchCommand,
		commands.ServeCommand,
	}
	app.Before = func(cliContext *cli.Context) error {
		lvl, err := logrus.ParseLevel(cliContext.GlobalString(global.LogLevelFlag))
		if err != nil {
			return fmt.Errorf("failed to prepare logger: %w", err)
		}
		logrus.SetLevel(lvl)
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: log.RFC3339NanoFixed,
			FullTimestamp:   true,
		})
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cldc-inflater: %v\n", err)
		os.Exit(1)
	}
}
