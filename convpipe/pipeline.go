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
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-convpipe/fixpt"
)

// Run executes one full pipeline pass.
//
// input holds the activation volume flattened [channel][row][col]; weights
// the kernel volume flattened [outCh][inCh][ky][kx]; bn the per-out-channel
// (scale, bias) pairs, length 2×OutChannels; output receives the result
// flattened [channel][row][col] in post-pool dimensions. The engine only
// reads input, weights and bn, and only writes output; the caller must not
// mutate input or weights while a pass is in flight.
//
// The pass either fails fast before any stage starts (ErrKernelSize, or an
// undersized buffer) or runs to completion; there are no recoverable
// mid-run errors. Out-of-bounds reads are implicit zero padding, writes are
// clipped by tiling, and arithmetic overflow saturates.
func Run(p Params, input, weights WordBuf, bn []fixpt.Data, output WordBuf) error {
	if p.KernelSize > KMax {
		return ErrKernelSize
	}
	if err := checkBuffers(p, input, weights, bn, output); err != nil {
		return err
	}

	l := newLayout(p)

	inStream := make(chan Word, streamDepth)
	wtStream := make(chan Word, streamDepth)
	outStream := make(chan Word, streamDepth)

	var g errgroup.Group
	g.Go(func() error {
		fetchStage(l, input, weights, inStream, wtStream)
		return nil
	})
	g.Go(func() error {
		executeStage(l, bn, inStream, wtStream, outStream)
		return nil
	})
	g.Go(func() error {
		writeStage(l, output, outStream)
		return nil
	})
	return g.Wait()
}

func checkBuffers(p Params, input, weights WordBuf, bn []fixpt.Data, output WordBuf) error {
	if n := WordsFor(p.InChannels * p.InHeight * p.InWidth); len(input) < n {
		return fmt.Errorf("convpipe: input buffer has %d words, need %d", len(input), n)
	}
	if n := WordsFor(p.OutChannels * p.InChannels * p.KernelSize * p.KernelSize); len(weights) < n {
		return fmt.Errorf("convpipe: weight buffer has %d words, need %d", len(weights), n)
	}
	if n := 2 * p.OutChannels; len(bn) < n {
		return fmt.Errorf("convpipe: batch-norm params have %d entries, need %d", len(bn), n)
	}
	if n := WordsFor(p.OutputLen()); len(output) < n {
		return fmt.Errorf("convpipe: output buffer has %d words, need %d", len(output), n)
	}
	return nil
}
