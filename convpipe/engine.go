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
	"errors"
	"sync"

	"github.com/ajroetker/go-convpipe/fixpt"
)

// ErrBusy is returned by Start while a prior pass has not yet completed.
var ErrBusy = errors.New("convpipe: engine busy")

// Engine wraps the pipeline behind a start/poll control contract, the shape
// a register-level interface would drive: Start triggers one pass, Idle is
// a level query, Done is an edge observed at most once per pass.
type Engine struct {
	p       Params
	input   WordBuf
	weights WordBuf
	bn      []fixpt.Data
	output  WordBuf

	mu       sync.Mutex
	running  bool
	doneEdge bool
	err      error
	waitC    chan struct{}
}

// New creates an engine over caller-owned buffers. The caller must pre-size
// output for Params.OutputLen elements and must not mutate input, weights
// or bn while a pass is in flight.
func New(p Params, input, weights WordBuf, bn []fixpt.Data, output WordBuf) *Engine {
	return &Engine{p: p, input: input, weights: weights, bn: bn, output: output}
}

// Start triggers one pipeline pass. It is non-reentrant: a second Start
// before the pass completes returns ErrBusy. Configuration rejects
// (ErrKernelSize, undersized buffers) surface here, before any stage runs,
// and leave the engine idle.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrBusy
	}
	if e.p.KernelSize > KMax {
		return ErrKernelSize
	}
	if err := checkBuffers(e.p, e.input, e.weights, e.bn, e.output); err != nil {
		return err
	}

	e.running = true
	e.doneEdge = false
	e.err = nil
	e.waitC = make(chan struct{})

	go func() {
		err := Run(e.p, e.input, e.weights, e.bn, e.output)
		e.mu.Lock()
		e.running = false
		e.doneEdge = true
		e.err = err
		e.mu.Unlock()
		close(e.waitC)
	}()
	return nil
}

// Done reports pass completion as an edge: the first call after a pass
// finishes returns true, subsequent calls return false until the next pass
// completes.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.doneEdge
	e.doneEdge = false
	return d
}

// Idle reports whether no pass is in flight.
func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.running
}

// Wait blocks until the current pass completes and returns its error. It
// does not consume the Done edge. Calling Wait without a Start returns nil.
func (e *Engine) Wait() error {
	e.mu.Lock()
	c := e.waitC
	e.mu.Unlock()
	if c == nil {
		return nil
	}
	<-c
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
