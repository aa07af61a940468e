// Copyright 2025 go-convpipe Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command convbench runs one convolution layer through the streaming
// pipeline, verifies it against the direct scalar reference, and reports
// timing and the maximum fixed-point divergence.
//
// Usage:
//
//	convbench --in-channels 3 --out-channels 32 --size 26 --pool
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajroetker/go-convpipe/convpipe"
	"github.com/ajroetker/go-convpipe/fixpt"
	"github.com/ajroetker/go-convpipe/internal/workpool"
)

var (
	inChannels  int
	outChannels int
	size        int
	kernel      int
	stride      int
	padding     int
	usePool     bool
	poolStride  int
	activation  string
	tile        int
)

func main() {
	root := &cobra.Command{
		Use:   "convbench",
		Short: "Run one fixed-point convolution layer and verify it against the scalar reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	root.Flags().IntVar(&inChannels, "in-channels", 3, "input channel count")
	root.Flags().IntVar(&outChannels, "out-channels", 16, "output channel count")
	root.Flags().IntVar(&size, "size", 16, "input height and width")
	root.Flags().IntVar(&kernel, "kernel", 3, "kernel size")
	root.Flags().IntVar(&stride, "stride", 1, "stride")
	root.Flags().IntVar(&padding, "padding", 1, "zero padding")
	root.Flags().BoolVar(&usePool, "pool", false, "2x2 max-pool the output")
	root.Flags().IntVar(&poolStride, "pool-stride", 2, "pooling stride")
	root.Flags().StringVar(&activation, "activation", "zero", "activation mode: linear, zero or leaky")
	root.Flags().IntVar(&tile, "tile", 0, "spatial tile extent (0 = default)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	act, err := parseActivation(activation)
	if err != nil {
		return err
	}

	p := convpipe.Params{
		InChannels:  inChannels,
		OutChannels: outChannels,
		InHeight:    size,
		InWidth:     size,
		KernelSize:  kernel,
		Stride:      stride,
		Padding:     padding,
		UsePool:     usePool,
		PoolStride:  poolStride,
		Activation:  act,
		Tile:        tile,
	}

	input := make([]fixpt.Data, p.InChannels*p.InHeight*p.InWidth)
	for i := range input {
		input[i] = fixpt.FromFloat64(float64(i%100) / 100)
	}
	weights := make([]fixpt.Data, p.OutChannels*p.InChannels*p.KernelSize*p.KernelSize)
	for i := range weights {
		weights[i] = fixpt.FromFloat64(float64(i%7-3) / 10)
	}
	bn := make([]fixpt.Data, 2*p.OutChannels)
	for oc := range p.OutChannels {
		bn[oc*2] = fixpt.FromFloat64(1.0)
		bn[oc*2+1] = fixpt.FromFloat64(0.5)
	}

	outH, outW := p.OutDims()
	finalH, finalW := p.FinalDims()
	fmt.Printf("layer: %dx%dx%d -> %dx%dx%d (conv %dx%d), k=%d s=%d p=%d\n",
		p.InChannels, p.InHeight, p.InWidth,
		p.OutChannels, finalH, finalW, outH, outW,
		p.KernelSize, p.Stride, p.Padding)

	output := convpipe.MakeWordBuf(p.OutputLen())
	start := time.Now()
	if err := convpipe.Run(p, convpipe.PackData(input), convpipe.PackData(weights), bn, output); err != nil {
		return err
	}
	pipeTime := time.Since(start)

	pool := workpool.New(0)
	defer pool.Close()

	start = time.Now()
	ref := convpipe.ConvScalar(pool, p, input, weights, bn)
	if usePool {
		ref = convpipe.MaxPoolScalar(ref, p.OutChannels, outH, outW)
	}
	refTime := time.Since(start)

	got := output.Unpack(p.OutputLen())
	mismatches := 0
	maxErr := 0.0
	for i := range ref {
		if got[i] != ref[i] {
			mismatches++
		}
		maxErr = math.Max(maxErr, math.Abs(got[i].Float64()-ref[i].Float64()))
	}

	fmt.Printf("pipeline: %v  reference: %v\n", pipeTime, refTime)
	fmt.Printf("%d elements, %d mismatches, max divergence %.6f\n", len(ref), mismatches, maxErr)
	if mismatches > 0 {
		return fmt.Errorf("pipeline diverged from reference")
	}
	return nil
}

func parseActivation(s string) (convpipe.Activation, error) {
	switch s {
	case "linear":
		return convpipe.ActLinear, nil
	case "zero":
		return convpipe.ActZero, nil
	case "leaky":
		return convpipe.ActLeaky, nil
	}
	return 0, fmt.Errorf("unknown activation %q", s)
}
