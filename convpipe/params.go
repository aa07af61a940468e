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

import "errors"

const (
	// KMax is the largest supported kernel size. Runs with a larger kernel
	// are rejected before any stage starts.
	KMax = 3

	// MaxStride bounds the stride the input caches are sized for.
	MaxStride = 2

	// DefaultTile is the spatial tile extent (output rows and columns per
	// tile) used when Params.Tile is zero.
	DefaultTile = 16

	// streamDepth is the capacity of the inter-stage FIFO channels.
	streamDepth = 1024
)

// Activation selects the post-batch-norm activation mode.
type Activation int

const (
	// ActZero clamps negative values to zero (standard rectification).
	ActZero Activation = iota
	// ActLinear passes values through unchanged.
	ActLinear
	// ActLeaky scales negative values by 13/128 instead of zeroing them.
	ActLeaky
)

// ErrKernelSize is returned when Params.KernelSize exceeds KMax. The run
// produces no output and must not be retried with the same configuration.
var ErrKernelSize = errors.New("convpipe: kernel size exceeds maximum")

// Params configures one pipeline pass. All fields except KernelSize are
// caller-validated: shapes, stride and padding must be mutually consistent.
// Output dimensions are derived, never supplied.
type Params struct {
	InChannels  int
	OutChannels int
	InHeight    int
	InWidth     int
	KernelSize  int
	Stride      int
	Padding     int

	// UsePool enables 2×2 max-pooling of the convolution output when
	// PoolStride is at least 2. Pooling requires an even tile extent
	// (the default is).
	UsePool    bool
	PoolStride int

	Activation Activation

	// Tile is the spatial tile extent; zero selects DefaultTile. Channel
	// tiles are fixed at Lanes to match the stream vector width.
	Tile int
}

// OutDims returns the convolution output height and width.
func (p Params) OutDims() (h, w int) {
	h = (p.InHeight+2*p.Padding-p.KernelSize)/p.Stride + 1
	w = (p.InWidth+2*p.Padding-p.KernelSize)/p.Stride + 1
	return h, w
}

// FinalDims returns the output dimensions after optional pooling.
func (p Params) FinalDims() (h, w int) {
	h, w = p.OutDims()
	if p.pooling() {
		h /= 2
		w /= 2
	}
	return h, w
}

// OutputLen returns the number of output elements the caller must size the
// output buffer for.
func (p Params) OutputLen() int {
	h, w := p.FinalDims()
	return p.OutChannels * h * w
}

func (p Params) pooling() bool {
	return p.UsePool && p.PoolStride >= 2
}

func (p Params) tile() int {
	if p.Tile <= 0 {
		return DefaultTile
	}
	return p.Tile
}
