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
	"github.com/ajroetker/go-convpipe/fixpt"
	"github.com/ajroetker/go-convpipe/internal/workpool"
)

// ConvScalar computes the convolution + batch-norm + activation directly,
// without tiling or streaming, using the same fixed-point operations as the
// pipeline. It is the verification reference: absent accumulator
// saturation, its output is bit-identical to the pipeline's pre-pool
// result.
//
// input is flattened [channel][row][col], weights [outCh][inCh][ky][kx],
// bn the (scale, bias) pairs. Output channels are fanned out over pool;
// pass nil to run sequentially.
func ConvScalar(pool *workpool.Pool, p Params, input, weights, bn []fixpt.Data) []fixpt.Data {
	outH, outW := p.OutDims()
	out := make([]fixpt.Data, p.OutChannels*outH*outW)

	channel := func(oc int) {
		scale := bn[oc*2]
		bias := bn[oc*2+1]
		for oh := range outH {
			for ow := range outW {
				var sum fixpt.Acc
				h0 := oh*p.Stride - p.Padding
				w0 := ow*p.Stride - p.Padding
				for ic := range p.InChannels {
					for ky := range p.KernelSize {
						for kx := range p.KernelSize {
							ih := h0 + ky
							iw := w0 + kx
							if ih < 0 || ih >= p.InHeight || iw < 0 || iw >= p.InWidth {
								continue
							}
							in := input[(ic*p.InHeight+ih)*p.InWidth+iw]
							wt := weights[((oc*p.InChannels+ic)*p.KernelSize+ky)*p.KernelSize+kx]
							sum = fixpt.AccAdd(sum, fixpt.MulData(in, wt))
						}
					}
				}
				a := fixpt.AccAdd(fixpt.AccMulData(sum, scale), fixpt.DataToAcc(bias))
				out[(oc*outH+oh)*outW+ow] = activate(fixpt.AccToData(a), p.Activation)
			}
		}
	}

	if pool == nil {
		for oc := range p.OutChannels {
			channel(oc)
		}
		return out
	}
	pool.ParallelFor(p.OutChannels, func(start, end int) {
		for oc := start; oc < end; oc++ {
			channel(oc)
		}
	})
	return out
}

// MaxPoolScalar reduces src (flattened [channel][row][col]) with
// non-overlapping 2×2 max-pooling. Odd trailing rows/columns are dropped,
// matching the pipeline's write stage.
func MaxPoolScalar(src []fixpt.Data, channels, h, w int) []fixpt.Data {
	outH, outW := h/2, w/2
	out := make([]fixpt.Data, channels*outH*outW)
	for c := range channels {
		for oh := range outH {
			for ow := range outW {
				v0 := src[(c*h+oh*2)*w+ow*2]
				v1 := src[(c*h+oh*2+1)*w+ow*2]
				v2 := src[(c*h+oh*2)*w+ow*2+1]
				v3 := src[(c*h+oh*2+1)*w+ow*2+1]
				out[(c*outH+oh)*outW+ow] = max(max(v0, v1), max(v2, v3))
			}
		}
	}
	return out
}
