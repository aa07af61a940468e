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

// Package convpipe computes a 2D convolution layer (convolution, fused
// batch-norm affine transform, activation, optional 2×2 max-pool) over
// tensors that do not fit in a working set, using Q8.8 fixed-point
// arithmetic and a three-stage streaming pipeline.
//
// The layer is partitioned into tiles along output rows, columns, output
// channels and input channels. Three stages run concurrently, connected by
// bounded FIFO channels:
//
//	Fetch   reads activations and weights from word-packed buffers into
//	        per-tile caches and emits element streams
//	Execute multiply-accumulates across input channels into a persisted
//	        partial-sum store, then applies batch-norm and activation
//	Write   optionally max-pools and packs results back with
//	        alignment-safe (read-modify-write at partial words) stores
//
// Stream elements carry no position tags; ordering is the contract. All
// three stages walk the identical tile nesting
// row-tile → col-tile → in-channel-tile → out-channel-tile, so producer
// and consumer counts match exactly.
//
// One-shot use:
//
//	err := convpipe.Run(p, input, weights, bn, output)
//
// Start/poll use, mirroring a device-style control interface:
//
//	eng := convpipe.New(p, input, weights, bn, output)
//	if err := eng.Start(); err != nil { ... }
//	for !eng.Done() { ... }
//
// ConvScalar and MaxPoolScalar provide a direct, non-tiled reference with
// identical fixed-point rounding, used for verification.
package convpipe
