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
	"regexp"
	"strconv"
	"strings"

	"github.com/awslabs/cldc-inflater/compression/inflate"
)

var (
	sizeRegex = regexp.MustCompile(`(?i)^\s*(\d+(\.\d+)?)(\s*(gb|mb|kb|b)?)?\s*$`)

	unitMultipliers = map[string]float64{
		"":   1, // no unit specified, treat as bytes
		"b":  1,
		"kb": 1024,
		"mb": 1024 * 1024,
		"gb": 1024 * 1024 * 1024,
	}
)

// InflateConfig tunes the DEFLATE sessions used to decode resources.
// Sizes accept a unit suffix, e.g. "4kb" or "1.5mb".
type InflateConfig struct {
	InputChunkSizeStr string `toml:"input_chunk_size"`
	InputChunkSize    int64  `toml:"-"`

	OutputLimitStr string `toml:"output_limit"`
	OutputLimit    int64  `toml:"-"`

	// QuickBits pins the main-table width of dynamic Huffman tables.
	// Zero picks the width with the smallest table footprint.
	QuickBits int `toml:"quick_bits"`

	StepQuantumStr string `toml:"step_quantum"`
	StepQuantum    int64  `toml:"-"`

	IncrementalThresholdStr string `toml:"incremental_threshold"`
	IncrementalThreshold    int64  `toml:"-"`
}

func defaultInflateConfig(cfg *Config) error {
	cfg.InflateConfig = InflateConfig{
		InputChunkSize:       defaultInputChunkSize,
		OutputLimit:          defaultOutputLimit,
		StepQuantum:          defaultStepQuantum,
		IncrementalThreshold: defaultIncrementalThreshold,
	}
	return nil
}

func parseInflateConfig(cfg *Config) error {
	ic := &cfg.InflateConfig
	for _, f := range []struct {
		name string
		str  string
		def  int64
		dst  *int64
	}{
		{"input_chunk_size", ic.InputChunkSizeStr, defaultInputChunkSize, &ic.InputChunkSize},
		{"output_limit", ic.OutputLimitStr, defaultOutputLimit, &ic.OutputLimit},
		{"step_quantum", ic.StepQuantumStr, defaultStepQuantum, &ic.StepQuantum},
		{"incremental_threshold", ic.IncrementalThresholdStr, defaultIncrementalThreshold, &ic.IncrementalThreshold},
	} {
		size, err := parseSize(f.str, f.def)
		if err != nil {
			return fmt.Errorf("inflate.%s: %w", f.name, err)
		}
		*f.dst = size
	}
	if ic.QuickBits < 0 || ic.QuickBits > 15 {
		return fmt.Errorf("inflate.quick_bits must be between 0 and 15, got %d", ic.QuickBits)
	}
	if ic.OutputLimit < inflate.DictionarySize {
		return fmt.Errorf("inflate.output_limit must be at least %d bytes, got %d", inflate.DictionarySize, ic.OutputLimit)
	}
	return nil
}

// SessionOptions returns the session options this configuration selects.
func (ic InflateConfig) SessionOptions() []inflate.Option {
	return []inflate.Option{
		inflate.WithInputChunkSize(int(ic.InputChunkSize)),
		inflate.WithOutputLimit(int(ic.OutputLimit)),
		inflate.WithQuickBits(ic.QuickBits),
		inflate.WithStepQuantum(int(ic.StepQuantum)),
	}
}

// parseSize parses a size with an optional unit. An empty or zero size
// selects def.
func parseSize(sizeStr string, def int64) (int64, error) {
	if sizeStr == "" {
		return def, nil
	}

	matches := sizeRegex.FindStringSubmatch(sizeStr)
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s", sizeStr)
	}

	numStr, unitStr := matches[1], strings.ToLower(strings.TrimSpace(matches[4]))
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse size number: %v", err)
	}

	multiplier, ok := unitMultipliers[unitStr]
	if !ok {
		return 0, fmt.Errorf("unknown size unit: %s", unitStr)
	}

	size := int64(num * multiplier)
	if size == 0 {
		size = def
	}
	return size, nil
}
