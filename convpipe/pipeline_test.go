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

package convpipe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-convpipe/fixpt"
	"github.com/ajroetker/go-convpipe/internal/workpool"
)

// tolerance is the accepted real-valued divergence between the pipeline and
// a float reference. Empirical, matching the original verification runs;
// a test parameter, not an architectural constant.
const tolerance = 0.05

// layerData builds the deterministic stimulus: inputs cycle 0.00..0.99,
// weights cycle −0.3..+0.3, batch-norm is scale 1.0 / bias 0.5.
func layerData(p Params) (input, weights, bn []fixpt.Data) {
	input = make([]fixpt.Data, p.InChannels*p.InHeight*p.InWidth)
	for i := range input {
		input[i] = fixpt.FromFloat64(float64(i%100) / 100)
	}
	weights = make([]fixpt.Data, p.OutChannels*p.InChannels*p.KernelSize*p.KernelSize)
	for i := range weights {
		weights[i] = fixpt.FromFloat64(float64(i%7-3) / 10)
	}
	bn = make([]fixpt.Data, 2*p.OutChannels)
	for oc := range p.OutChannels {
		bn[oc*2] = fixpt.FromFloat64(1.0)
		bn[oc*2+1] = fixpt.FromFloat64(0.5)
	}
	return input, weights, bn
}

func runLayer(t *testing.T, p Params, input, weights, bn []fixpt.Data) []fixpt.Data {
	t.Helper()
	output := MakeWordBuf(p.OutputLen())
	require.NoError(t, Run(p, PackData(input), PackData(weights), bn, output))
	return output.Unpack(p.OutputLen())
}

// refLayer is the direct fixed-point reference for a full layer, pooling
// included.
func refLayer(p Params, input, weights, bn []fixpt.Data) []fixpt.Data {
	pool := workpool.New(0)
	defer pool.Close()
	out := ConvScalar(pool, p, input, weights, bn)
	if p.pooling() {
		h, w := p.OutDims()
		out = MaxPoolScalar(out, p.OutChannels, h, w)
	}
	return out
}

// floatLayer models the layer in float64 over the quantized operands:
// the accumulation-completeness bound the pipeline must stay within.
func floatLayer(p Params, input, weights, bn []fixpt.Data) []float64 {
	outH, outW := p.OutDims()
	out := make([]float64, p.OutChannels*outH*outW)
	for oc := range p.OutChannels {
		scale := bn[oc*2].Float64()
		bias := bn[oc*2+1].Float64()
		for oh := range outH {
			for ow := range outW {
				sum := 0.0
				for ic := range p.InChannels {
					for ky := range p.KernelSize {
						for kx := range p.KernelSize {
							ih := oh*p.Stride - p.Padding + ky
							iw := ow*p.Stride - p.Padding + kx
							if ih < 0 || ih >= p.InHeight || iw < 0 || iw >= p.InWidth {
								continue
							}
							in := input[(ic*p.InHeight+ih)*p.InWidth+iw].Float64()
							wt := weights[((oc*p.InChannels+ic)*p.KernelSize+ky)*p.KernelSize+kx].Float64()
							sum += in * wt
						}
					}
				}
				v := sum*scale + bias
				switch {
				case p.Activation == ActLinear || v >= 0:
				case p.Activation == ActLeaky:
					v *= 13.0 / 128
				default:
					v = 0
				}
				out[(oc*outH+oh)*outW+ow] = v
			}
		}
	}
	if p.pooling() {
		ph, pw := outH/2, outW/2
		pooled := make([]float64, p.OutChannels*ph*pw)
		for c := range p.OutChannels {
			for i := range ph {
				for j := range pw {
					m := math.Inf(-1)
					for di := range 2 {
						for dj := range 2 {
							m = math.Max(m, out[(c*outH+i*2+di)*outW+j*2+dj])
						}
					}
					pooled[(c*ph+i)*pw+j] = m
				}
			}
		}
		return pooled
	}
	return out
}

func TestPipelineLayers(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{
			// Single tile on every axis, rectifying activation.
			name: "aligned_16x16",
			p:    Params{InChannels: 3, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1},
		},
		{
			// Output rows don't fill storage words: exercises clipped
			// tiles and read-modify-write packing.
			name: "non_aligned_13x13",
			p:    Params{InChannels: 3, OutChannels: 16, InHeight: 13, InWidth: 13, KernelSize: 3, Stride: 1, Padding: 1},
		},
		{
			// Multiple row, column and out-channel tiles: cross-tile
			// accumulation and input cache reuse.
			name: "multi_tile_26x26_oc32",
			p:    Params{InChannels: 3, OutChannels: 32, InHeight: 26, InWidth: 26, KernelSize: 3, Stride: 1, Padding: 1},
		},
		{
			// Multiple in-channel tiles: partial sums persist across the
			// in-channel sweep.
			name: "deep_ic48",
			p:    Params{InChannels: 48, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1},
		},
		{
			name: "pooled_16x16",
			p:    Params{InChannels: 3, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1, UsePool: true, PoolStride: 2},
		},
		{
			// 26×26 pools to 13×13: pooled rows land mid-word.
			name: "pooled_non_aligned_26x26",
			p:    Params{InChannels: 3, OutChannels: 16, InHeight: 26, InWidth: 26, KernelSize: 3, Stride: 1, Padding: 1, UsePool: true, PoolStride: 2},
		},
		{
			name: "leaky_16x16",
			p:    Params{InChannels: 3, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1, Activation: ActLeaky},
		},
		{
			name: "linear_16x16",
			p:    Params{InChannels: 3, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1, Activation: ActLinear},
		},
		{
			name: "stride_2",
			p:    Params{InChannels: 16, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 2, Padding: 1},
		},
		{
			name: "kernel_1",
			p:    Params{InChannels: 8, OutChannels: 8, InHeight: 10, InWidth: 10, KernelSize: 1, Stride: 1, Padding: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, weights, bn := layerData(tt.p)
			got := runLayer(t, tt.p, input, weights, bn)
			want := refLayer(tt.p, input, weights, bn)

			require.Len(t, got, len(want))
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("element %d: pipeline %d (%v), reference %d (%v)",
						i, got[i], got[i].Float64(), want[i], want[i].Float64())
				}
			}

			if !tt.p.pooling() {
				model := floatLayer(tt.p, input, weights, bn)
				maxErr := 0.0
				for i := range model {
					maxErr = math.Max(maxErr, math.Abs(got[i].Float64()-model[i]))
				}
				assert.LessOrEqual(t, maxErr, tolerance, "float divergence")
			}
		})
	}
}

func TestTilingIdempotent(t *testing.T) {
	// Different tile grids over the same tensor must agree bit for bit.
	base := Params{InChannels: 20, OutChannels: 24, InHeight: 26, InWidth: 26, KernelSize: 3, Stride: 1, Padding: 1}
	input, weights, bn := layerData(base)

	var outputs []WordBuf
	for _, tile := range []int{4, 8, 16} {
		p := base
		p.Tile = tile
		output := MakeWordBuf(p.OutputLen())
		require.NoError(t, Run(p, PackData(input), PackData(weights), bn, output))
		outputs = append(outputs, output)
	}
	assert.Equal(t, outputs[0], outputs[1], "tile 4 vs tile 8")
	assert.Equal(t, outputs[1], outputs[2], "tile 8 vs tile 16")
}

func TestTilingIdempotentPooled(t *testing.T) {
	base := Params{InChannels: 3, OutChannels: 16, InHeight: 26, InWidth: 26, KernelSize: 3, Stride: 1, Padding: 1, UsePool: true, PoolStride: 2}
	input, weights, bn := layerData(base)

	var outputs []WordBuf
	for _, tile := range []int{8, 16} {
		p := base
		p.Tile = tile
		output := MakeWordBuf(p.OutputLen())
		require.NoError(t, Run(p, PackData(input), PackData(weights), bn, output))
		outputs = append(outputs, output)
	}
	assert.Equal(t, outputs[0], outputs[1], "tile 8 vs tile 16")
}

func TestRunRejectsKernelSize(t *testing.T) {
	p := Params{InChannels: 3, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 5, Stride: 1, Padding: 2}
	input, weights, bn := layerData(p)
	output := sentinelBuf(WordsFor(p.OutputLen()))

	err := Run(p, PackData(input), PackData(weights), bn, output)
	require.ErrorIs(t, err, ErrKernelSize)

	// Fail fast means no partial output.
	for w := range output {
		for s := range output[w] {
			assert.Equal(t, sentinel, output[w][s], "output touched at word %d slot %d", w, s)
		}
	}
}

func TestRunRejectsShortBuffers(t *testing.T) {
	p := Params{InChannels: 3, OutChannels: 16, InHeight: 16, InWidth: 16, KernelSize: 3, Stride: 1, Padding: 1}
	input, weights, bn := layerData(p)

	err := Run(p, PackData(input), PackData(weights), bn, MakeWordBuf(p.OutputLen()/2))
	require.Error(t, err)

	err = Run(p, PackData(input[:10]), PackData(weights), bn, MakeWordBuf(p.OutputLen()))
	require.Error(t, err)

	err = Run(p, PackData(input), PackData(weights), bn[:3], MakeWordBuf(p.OutputLen()))
	require.Error(t, err)
}
