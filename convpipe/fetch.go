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

import "github.com/ajroetker/go-convpipe/fixpt"

// fetchStage reads activations and weights from the backing buffers and
// emits the two element streams. The input cache for a (row, col,
// in-channel) tile is filled exactly once and re-streamed for every
// out-channel tile — load once, stream many is the reuse invariant the
// whole pipeline is built around.
//
// Stream orders, which Execute depends on:
//
//	weights: per (ic-tile, oc-tile), oc-major then kernel position,
//	         lane = in-channel within tile
//	inputs:  per (ic-tile, oc-tile), kernel position outer, spatial
//	         position inner, lane = in-channel within tile
func fetchStage(l layout, input, weights WordBuf, inStream, wtStream chan<- Word) {
	p := l.p
	k := p.KernelSize

	// One tile's padded receptive field for all Lanes channels.
	cache := make([]fixpt.Data, Lanes*l.cacheH*l.cacheW)
	var wcache [Lanes * Lanes * KMax * KMax]fixpt.Data

	for rt := range l.rowTiles {
		for ct := range l.colTiles {
			r0, c0, th, tw := l.tileRect(rt, ct)
			hBase, wBase, winH, winW := l.srcWindow(r0, c0, th, tw)

			for ti := range l.icTiles {
				icBase := ti * Lanes

				// Fill the input cache once per (rt, ct, ti). Rows outside
				// the input volume, and lanes past the channel count, stay
				// zero: implicit zero-padding.
				for ic := range Lanes {
					chOK := icBase+ic < p.InChannels
					for i := range winH {
						r := hBase + i
						row := cache[(ic*l.cacheH+i)*l.cacheW:]
						for j := range winW {
							row[j] = 0
						}
						if !chOK || r < 0 || r >= p.InHeight {
							continue
						}
						j0 := max(0, -wBase)
						j1 := min(winW, p.InWidth-wBase)
						if j0 >= j1 {
							continue
						}
						off := ((icBase+ic)*p.InHeight+r)*p.InWidth + wBase
						for j := j0; j < j1; j++ {
							row[j] = input.At(off + j)
						}
					}
				}

				for to := range l.ocTiles {
					ocBase := to * Lanes

					// Load the weight block for this (ic-tile, oc-tile)
					// pair, zero-padded to the full tile on clipped edges.
					clear(wcache[:])
					ocValid := min(Lanes, p.OutChannels-ocBase)
					icValid := min(Lanes, p.InChannels-icBase)
					for oc := range ocValid {
						for ic := range icValid {
							for ky := range k {
								for kx := range k {
									idx := (((ocBase+oc)*p.InChannels+icBase+ic)*k+ky)*k + kx
									wcache[wIdx(oc, ic, ky, kx)] = weights.At(idx)
								}
							}
						}
					}

					// Stream weights: oc-major, then kernel position.
					for oc := range Lanes {
						for ky := range k {
							for kx := range k {
								var v Word
								for ic := range Lanes {
									v[ic] = wcache[wIdx(oc, ic, ky, kx)]
								}
								wtStream <- v
							}
						}
					}

					// Stream inputs in kernel-position-major order so
					// Execute's reduction reads group by kernel tap.
					for ky := range k {
						for kx := range k {
							for i := range th {
								for j := range tw {
									var v Word
									for ic := range Lanes {
										row := i*p.Stride + ky
										col := j*p.Stride + kx
										v[ic] = cache[(ic*l.cacheH+row)*l.cacheW+col]
									}
									inStream <- v
								}
							}
						}
					}
				}
			}
		}
	}

	close(inStream)
	close(wtStream)
}

// wIdx flattens a weight cache coordinate. The cache is a full
// Lanes×Lanes×KMax×KMax block regardless of the configured kernel size.
func wIdx(oc, ic, ky, kx int) int {
	return ((oc*Lanes+ic)*KMax+ky)*KMax + kx
}
