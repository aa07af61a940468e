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

// writeStage consumes the output stream one completed (row, col,
// out-channel) tile at a time, optionally max-pools 2×2 groups, and packs
// results into the output buffer. Every row store goes through
// WordBuf.WriteRange so words the tile only partially covers are
// read-modify-written, preserving neighboring tiles' data.
func writeStage(l layout, output WordBuf, outStream <-chan Word) {
	p := l.p
	finalH, finalW := p.FinalDims()

	tbuf := make([]fixpt.Data, Lanes*l.tile*l.tile)
	row := make([]fixpt.Data, l.tile)

	for rt := range l.rowTiles {
		for ct := range l.colTiles {
			r0, c0, th, tw := l.tileRect(rt, ct)

			for to := range l.ocTiles {
				ocLimit := min(Lanes, p.OutChannels-to*Lanes)

				// Deserialize exactly one vector per spatial position,
				// preserving Execute's emission order.
				for i := range th {
					for j := range tw {
						v := <-outStream
						for oc := range Lanes {
							tbuf[(oc*l.tile+i)*l.tile+j] = v[oc]
						}
					}
				}

				if p.pooling() {
					ph, pw := th/2, tw/2
					for oc := range ocLimit {
						for i := range ph {
							for j := range pw {
								row[j] = pool2x2(tbuf, l.tile, oc, i, j)
							}
							base := ((to*Lanes+oc)*finalH+r0/2+i)*finalW + c0/2
							output.WriteRange(base, row[:pw])
						}
					}
					continue
				}

				for oc := range ocLimit {
					for i := range th {
						copy(row[:tw], tbuf[(oc*l.tile+i)*l.tile:])
						base := ((to*Lanes+oc)*l.outH+r0+i)*l.outW + c0
						output.WriteRange(base, row[:tw])
					}
				}
			}
		}
	}
}

// pool2x2 reduces the non-overlapping 2×2 group at pooled position (i, j)
// of channel oc in the tile buffer to its maximum. Q8.8 order matches raw
// int16 order, so plain comparisons suffice.
func pool2x2(tbuf []fixpt.Data, tile, oc, i, j int) fixpt.Data {
	v0 := tbuf[(oc*tile+i*2)*tile+j*2]
	v1 := tbuf[(oc*tile+i*2+1)*tile+j*2]
	v2 := tbuf[(oc*tile+i*2)*tile+j*2+1]
	v3 := tbuf[(oc*tile+i*2+1)*tile+j*2+1]
	return max(max(v0, v1), max(v2, v3))
}
