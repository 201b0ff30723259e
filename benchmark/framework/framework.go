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

// Package framework times repeated runs of decode workloads and summarises
// them.
package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/log"
	"github.com/montanaflynn/stats"
)

var (
	resultFilename             = "results.json"
	resultFilePerm fs.FileMode = 0644
)

type BenchmarkFramework struct {
	OutputDir string                `json:"-"`
	Drivers   []BenchmarkTestDriver `json:"benchmarkTests"`
}

// BenchmarkTestStats summarises run durations, in seconds, and throughput
// in uncompressed megabytes per second.
type BenchmarkTestStats struct {
	BenchmarkTimes []float64 `json:"BenchmarkTimes"`
	StdDev         float64   `json:"stdDev"`
	Mean           float64   `json:"mean"`
	Min            float64   `json:"min"`
	Pct25          float64   `json:"pct25"`
	Pct50          float64   `json:"pct50"`
	Pct75          float64   `json:"pct75"`
	Pct90          float64   `json:"pct90"`
	Max            float64   `json:"max"`
	Throughput     float64   `json:"throughputMBps"`
}

// BenchmarkTestDriver runs TestFunction NumberOfTests times. TestFunction
// returns the number of uncompressed bytes it produced.
type BenchmarkTestDriver struct {
	TestName       string                                   `json:"testName"`
	NumberOfTests  int                                      `json:"numberOfTests"`
	BeforeFunction func()                                   `json:"-"`
	TestFunction   func(ctx context.Context) (int64, error) `json:"-"`
	AfterFunction  func() error                             `json:"-"`
	BytesPerRun    int64                                    `json:"bytesPerRun"`
	TestStats      BenchmarkTestStats                       `json:"testStats"`
}

// Run runs every driver, computes its statistics and, if OutputDir is set,
// writes them to results.json there. It stops at the first failing run.
func (frame *BenchmarkFramework) Run(ctx context.Context) error {
	for i := range frame.Drivers {
		testDriver := &frame.Drivers[i]
		log.G(ctx).WithField("test_name", testDriver.TestName).Debug("starting benchmark")
		if testDriver.BeforeFunction != nil {
			testDriver.BeforeFunction()
		}
		for j := 0; j < testDriver.NumberOfTests; j++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			n, err := testDriver.TestFunction(ctx)
			if err != nil {
				return fmt.Errorf("%s run %d: %w", testDriver.TestName, j+1, err)
			}
			testDriver.TestStats.BenchmarkTimes = append(testDriver.TestStats.BenchmarkTimes, time.Since(start).Seconds())
			testDriver.BytesPerRun = n
		}
		testDriver.calculateStats()
		if testDriver.AfterFunction != nil {
			if err := testDriver.AfterFunction(); err != nil {
				log.G(ctx).WithError(err).Warn("after function failed")
			}
		}
	}

	if frame.OutputDir == "" {
		return nil
	}
	out, err := json.MarshalIndent(frame, "", " ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.MkdirAll(frame.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return os.WriteFile(filepath.Join(frame.OutputDir, resultFilename), out, resultFilePerm)
}

func (driver *BenchmarkTestDriver) calculateStats() {
	s := &driver.TestStats
	times := stats.Float64Data(s.BenchmarkTimes)
	for _, c := range []struct {
		name string
		dst  *float64
		fn   func() (float64, error)
	}{
		{"std dev", &s.StdDev, times.StandardDeviation},
		{"mean", &s.Mean, times.Mean},
		{"min", &s.Min, times.Min},
		{"25th pct", &s.Pct25, func() (float64, error) { return times.Percentile(25) }},
		{"50th pct", &s.Pct50, func() (float64, error) { return times.Percentile(50) }},
		{"75th pct", &s.Pct75, func() (float64, error) { return times.Percentile(75) }},
		{"90th pct", &s.Pct90, func() (float64, error) { return times.Percentile(90) }},
		{"max", &s.Max, times.Max},
	} {
		v, err := c.fn()
		if err != nil {
			log.L.WithError(err).WithField("test_name", driver.TestName).Debugf("failed to calculate %s", c.name)
			v = -1
		}
		*c.dst = v
	}
	if s.Mean > 0 {
		s.Throughput = float64(driver.BytesPerRun) / (1 << 20) / s.Mean
	}
}
