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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/awslabs/cldc-inflater/benchmark/framework"
	"github.com/awslabs/cldc-inflater/catalog"
	"github.com/awslabs/cldc-inflater/cmd/cldc-inflater/commands/global"
	"github.com/awslabs/cldc-inflater/compression"
	"github.com/awslabs/cldc-inflater/resource"
	"github.com/klauspost/compress/flate"
	"github.com/urfave/cli"
)

const (
	countKey     = "count"
	outputDirKey = "output-dir"
)

var BenchCommand = cli.Command{
	Name:      "bench",
	Usage:     "time one-shot, incremental and reference decoding of resources",
	ArgsUsage: "<name> [<name> ...]",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  countKey,
			Usage: "number of runs per resource and mode",
			Value: 10,
		},
		cli.StringFlag{
			Name:  outputDirKey,
			Usage: "directory to write results.json to",
		},
	},
	Action: func(cliContext *cli.Context) error {
		if cliContext.NArg() == 0 {
			return errNoResource
		}
		cfg, db, err := global.OpenCatalog(cliContext)
		if err != nil {
			return err
		}
		defer db.Close()
		ctx, cancel := global.Context(cliContext)
		defer cancel()

		loader := resource.NewLoader(cfg, db)
		frame := framework.BenchmarkFramework{OutputDir: cliContext.String(outputDirKey)}
		for _, name := range cliContext.Args() {
			e, err := db.Get(ctx, name)
			if err != nil {
				return err
			}
			drivers, err := benchDrivers(loader, e, cliContext.Int(countKey))
			if err != nil {
				return err
			}
			frame.Drivers = append(frame.Drivers, drivers...)
		}
		if err := frame.Run(ctx); err != nil {
			return err
		}

		writer := tabwriter.NewWriter(os.Stdout, 8, 8, 4, ' ', 0)
		writer.Write([]byte("BENCHMARK\tRUNS\tMEAN\tP50\tP90\tSTDDEV\tMB/S\t\n"))
		for _, d := range frame.Drivers {
			s := d.TestStats
			fmt.Fprintf(writer, "%s\t%d\t%.6fs\t%.6fs\t%.6fs\t%.6fs\t%.1f\t\n",
				d.TestName, len(s.BenchmarkTimes), s.Mean, s.Pct50, s.Pct90, s.StdDev, s.Throughput)
		}
		return writer.Flush()
	},
}

func benchDrivers(loader *resource.Loader, e *catalog.Entry, count int) ([]framework.BenchmarkTestDriver, error) {
	name := e.Name
	drivers := []framework.BenchmarkTestDriver{
		{
			TestName:      name + "/" + compression.ModeOneShot,
			NumberOfTests: count,
			TestFunction: func(ctx context.Context) (int64, error) {
				data, err := loader.Load(ctx, name)
				return int64(len(data)), err
			},
		},
		{
			TestName:      name + "/" + compression.ModeIncremental,
			NumberOfTests: count,
			TestFunction: func(ctx context.Context) (int64, error) {
				rc, err := loader.Open(ctx, name)
				if err != nil {
					return 0, err
				}
				defer rc.Close()
				return io.Copy(io.Discard, rc)
			},
		},
	}
	if e.Method != compression.Deflate {
		return drivers, nil
	}
	packed, err := compressedBytes(e)
	if err != nil {
		return nil, err
	}
	drivers = append(drivers, framework.BenchmarkTestDriver{
		TestName:      name + "/reference",
		NumberOfTests: count,
		TestFunction: func(context.Context) (int64, error) {
			r := flate.NewReader(bytes.NewReader(packed))
			defer r.Close()
			return io.Copy(io.Discard, r)
		},
	})
	return drivers, nil
}

// compressedBytes reads the raw compressed bytes of an entry.
func compressedBytes(e *catalog.Entry) ([]byte, error) {
	if e.Resident {
		return e.Data, nil
	}
	f, err := os.Open(e.Location)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, e.CompressedSize)
	if _, err := f.ReadAt(buf, e.Offset); err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", e.Name, e.Location, err)
	}
	return buf, nil
}
