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

// layout is the tiling grid for one pass, computed once and walked
// identically by all three stages. Row/column tiles cover the convolution
// output; channel tiles are Lanes wide on both the input and output axes.
type layout struct {
	p    Params
	tile int

	outH, outW int

	rowTiles, colTiles int
	ocTiles, icTiles   int

	// cacheH/cacheW size the fetch stage's input cache for the worst-case
	// padded receptive field of one tile.
	cacheH, cacheW int
}

func newLayout(p Params) layout {
	l := layout{p: p, tile: p.tile()}
	l.outH, l.outW = p.OutDims()
	l.rowTiles = ceilDiv(l.outH, l.tile)
	l.colTiles = ceilDiv(l.outW, l.tile)
	l.ocTiles = ceilDiv(p.OutChannels, Lanes)
	l.icTiles = ceilDiv(p.InChannels, Lanes)
	l.cacheH = l.tile*MaxStride + KMax - 1
	l.cacheW = l.cacheH
	return l
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// tileRect returns the output region of tile (rt, ct): its origin and its
// extent clipped at the tensor boundary. Partial tiles at the bottom/right
// edge operate only on the clipped extent.
func (l layout) tileRect(rt, ct int) (r0, c0, h, w int) {
	r0 = rt * l.tile
	c0 = ct * l.tile
	h = min(l.tile, l.outH-r0)
	w = min(l.tile, l.outW-c0)
	return r0, c0, h, w
}

// srcWindow returns the padding-adjusted source window in the input volume
// for a tile of extent (h, w) at output origin (r0, c0). The base may be
// negative and the window may extend past the input bounds; positions
// outside the volume read as zero.
func (l layout) srcWindow(r0, c0, h, w int) (hBase, wBase, winH, winW int) {
	hBase = r0*l.p.Stride - l.p.Padding
	wBase = c0*l.p.Stride - l.p.Padding
	winH = h*l.p.Stride + l.p.KernelSize - 1
	winW = w*l.p.Stride + l.p.KernelSize - 1
	return hBase, wBase, winH, winW
}
