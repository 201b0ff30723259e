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

package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/awslabs/cldc-inflater/catalog"
	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/global"
	"github.com/awslabs/cldc-inflater/resource"
	"github.com/urfave/cli"
)

const (
	outputKey = "output"
	allKey    = "all"
)

var errNoResource = errors.New("please provide a resource name")

var DecodeCommand = cli.Command{
	Name:      "decode",
	Usage:     "decode a resource in one shot",
	ArgsUsage: "<name>",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  outputKey + ", o",
			Usage: "write the decoded resource to a file instead of stdout",
		},
	},
	Action: func(cliContext *cli.Context) error {
		name := cliContext.Args().First()
		if name == "" {
			return errNoResource
		}
		cfg, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		data, err := resource.NewLoader(cfg, db).Load(ctx, name)
		if err != nil {
			return err
		}
		if out := cliContext.String(outputKey); out != "" {
			return os.WriteFile(out, data, 0644)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var StreamCommand = cli.Command{
	Name:      "stream",
	Usage:     "decode a resource through a bounded output window and copy it to stdout",
	ArgsUsage: "<name>",
	Action: func(cliContext *cli.Context) error {
		name := cliContext.Args().First()
		if name == "" {
			return errNoResource
		}
		cfg, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		rc, err := resource.NewLoader(cfg, db).Open(ctx, name)
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(os.Stdout, rc)
		return err
	},
}

var PreloadCommand = cli.Command{
	Name:      "preload",
	Usage:     "decode several resources concurrently and report their sizes",
	ArgsUsage: "[<name> ...]",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  allKey,
			Usage: "preload every resource in the catalog",
		},
	},
	Action: func(cliContext *cli.Context) error {
		cfg, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		names := []string(cliContext.Args())
		if cliContext.Bool(allKey) {
			names = names[:0]
			err := db.Walk(ctx, func(e *catalog.Entry) error {
				names = append(names, e.Name)
				return nil
			})
			if err != nil {
				return err
			}
		}
		if len(names) == 0 {
			return errNoResource
		}

		loaded, err := resource.NewLoader(cfg, db).Preload(ctx, names)
		if err != nil {
			return err
		}
		sort.Strings(names)
		writer := tabwriter.NewWriter(os.Stdout, 8, 8, 4, ' ', 0)
		writer.Write([]byte("NAME\tSIZE\t\n"))
		for _, n := range names {
			fmt.Fprintf(writer, "%s\t%d\t\n", n, len(loaded[n]))
		}
		return writer.Flush()
	},
}
