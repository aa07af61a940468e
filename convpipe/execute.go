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

// executeStage consumes the input and weight streams and produces the
// output stream. For each (row, col) tile it owns a partial-sum store
// covering every out-channel tile; the store persists across in-channel
// tiles and each entry is finalized (batch-norm, truncation, activation)
// exactly once, on the last in-channel tile.
//
// Accumulation is performed entirely in fixpt.Acc with saturating adds;
// results re-enter the 16-bit value domain only at finalization.
func executeStage(l layout, bn []fixpt.Data, inStream, wtStream <-chan Word, outStream chan<- Word) {
	p := l.p
	k := p.KernelSize
	lastTi := l.icTiles - 1

	// Partial-sum store for one (rt, ct) tile:
	// [oc-tile][oc-within-tile][row][col].
	acc := make([]fixpt.Acc, l.ocTiles*Lanes*l.tile*l.tile)
	var wbuf [Lanes * Lanes * KMax * KMax]fixpt.Data

	for rt := range l.rowTiles {
		for ct := range l.colTiles {
			_, _, th, tw := l.tileRect(rt, ct)

			// First in-channel tile: zero-initialized store.
			clear(acc)

			for ti := range l.icTiles {
				for to := range l.ocTiles {
					// Unpack this (ic-tile, oc-tile) weight block.
					for oc := range Lanes {
						for ky := range k {
							for kx := range k {
								v := <-wtStream
								for ic := range Lanes {
									wbuf[wIdx(oc, ic, ky, kx)] = v[ic]
								}
							}
						}
					}

					// Multiply-accumulate, kernel-position-major to match
					// the input stream order.
					base := to * Lanes * l.tile * l.tile
					for ky := range k {
						for kx := range k {
							for i := range th {
								for j := range tw {
									v := <-inStream
									for oc := range Lanes {
										var dot fixpt.Acc
										for ic := range Lanes {
											dot = fixpt.AccAdd(dot, fixpt.MulData(wbuf[wIdx(oc, ic, ky, kx)], v[ic]))
										}
										ai := base + (oc*l.tile+i)*l.tile + j
										acc[ai] = fixpt.AccAdd(acc[ai], dot)
									}
								}
							}
						}
					}

					if ti == lastTi {
						finalizeTile(l, bn, acc[base:], to, th, tw, outStream)
					}
				}
			}
		}
	}

	close(outStream)
}

// finalizeTile applies the fused batch-norm affine transform and activation
// to one out-channel tile of the partial-sum store and emits one output
// vector per spatial position (lane = out-channel within tile).
func finalizeTile(l layout, bn []fixpt.Data, acc []fixpt.Acc, to, th, tw int, outStream chan<- Word) {
	ocBase := to * Lanes

	var scale, bias [Lanes]fixpt.Data
	for oc := range Lanes {
		if ocBase+oc < l.p.OutChannels {
			scale[oc] = bn[(ocBase+oc)*2]
			bias[oc] = bn[(ocBase+oc)*2+1]
		}
	}

	for i := range th {
		for j := range tw {
			var v Word
			for oc := range Lanes {
				a := acc[(oc*l.tile+i)*l.tile+j]
				a = fixpt.AccAdd(fixpt.AccMulData(a, scale[oc]), fixpt.DataToAcc(bias[oc]))
				v[oc] = activate(fixpt.AccToData(a), l.p.Activation)
			}
			outStream <- v
		}
	}
}

func activate(x fixpt.Data, mode Activation) fixpt.Data {
	if mode == ActLinear || x >= 0 {
		return x
	}
	if mode == ActLeaky {
		return fixpt.Leaky(x)
	}
	return 0
}
