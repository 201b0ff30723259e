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

package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/awslabs/cldc-inflater/catalog"
	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/global"
	"github.com/urfave/cli"
)

const quietKey = "quiet"

var listCommand = cli.Command{
	Name:    "list",
	Usage:   "list resources",
	Aliases: []string{"ls"},
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  quietKey + ", q",
			Usage: "only display the resource names",
		},
	},
	Action: func(cliContext *cli.Context) error {
		_, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		var entries []*catalog.Entry
		err = db.Walk(ctx, func(e *catalog.Entry) error {
			entries = append(entries, e)
			return nil
		})
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name < entries[j].Name
		})

		if cliContext.Bool(quietKey) {
			for _, e := range entries {
				fmt.Fprintf(os.Stdout, "%s\n", e.Name)
			}
			return nil
		}

		writer := tabwriter.NewWriter(os.Stdout, 8, 8, 4, ' ', 0)
		writer.Write([]byte("NAME\tMETHOD\tLOCATION\tCOMPRESSED\tUNCOMPRESSED\tRATIO\tCREATED\t\n"))
		for _, e := range entries {
			writeEntry(writer, e)
		}
		return writer.Flush()
	},
}

func writeEntry(w io.Writer, e *catalog.Entry) {
	location := e.Location
	if e.Resident {
		location = "(resident)"
	}
	ratio := "n/a"
	if e.UncompressedSize > 0 {
		ratio = fmt.Sprintf("%.2f", float64(e.CompressedSize)/float64(e.UncompressedSize))
	}
	fmt.Fprintf(w,
		"%s\t%s\t%s\t%d\t%d\t%s\t%s\t\n",
		e.Name,
		e.Method,
		location,
		e.CompressedSize,
		e.UncompressedSize,
		ratio,
		getDuration(e.CreatedAt),
	)
}

func getDuration(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	return fmt.Sprintf("%s ago", time.Since(t).Round(time.Second).String())
}

type Info struct {
	Name             string    `json:"name"`
	Method           string    `json:"method"`
	Resident         bool      `json:"resident"`
	Location         string    `json:"location,omitempty"`
	Offset           int64     `json:"offset"`
	CompressedSize   int64     `json:"compressed_size"`
	UncompressedSize int64     `json:"uncompressed_size"`
	CRC32            string    `json:"crc32"`
	Digest           string    `json:"digest,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "get detailed info about a resource",
	ArgsUsage: "<name>",
	Action: func(cliContext *cli.Context) error {
		name := cliContext.Args().First()
		if name == "" {
			return errors.New("please provide a resource name")
		}
		_, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		e, err := db.Get(ctx, name)
		if err != nil {
			return err
		}
		j, err := json.MarshalIndent(Info{
			Name:             e.Name,
			Method:           e.Method,
			Resident:         e.Resident,
			Location:         e.Location,
			Offset:           e.Offset,
			CompressedSize:   e.CompressedSize,
			UncompressedSize: e.UncompressedSize,
			CRC32:            fmt.Sprintf("%08x", e.CRC32),
			Digest:           e.Digest.String(),
			CreatedAt:        e.CreatedAt,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(j))
		return nil
	},
}

var rmCommand = cli.Command{
	Name:      "remove",
	Aliases:   []string{"rm"},
	Usage:     "remove resources from the catalog",
	ArgsUsage: "<name> [<name> ...]",
	Action: func(cliContext *cli.Context) error {
		if cliContext.NArg() == 0 {
			return errors.New("please provide at least one resource name")
		}
		_, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		for _, name := range cliContext.Args() {
			if err := db.Remove(ctx, name); err != nil {
				return err
			}
		}
		return nil
	},
}
