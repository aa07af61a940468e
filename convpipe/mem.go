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

// Lanes is the number of Q8.8 elements per storage word and per stream
// vector. Channel tiles are Lanes wide: one stream vector carries one
// element for each channel in the tile.
const Lanes = 16

// Word is one storage word: Lanes packed Q8.8 elements. The same type is
// the element of the inter-stage streams.
type Word [Lanes]fixpt.Data

// WordBuf is an addressable array of storage words holding a flattened
// tensor. Elements are packed densely: element i lives in word i/Lanes,
// slot i%Lanes.
type WordBuf []Word

// WordsFor returns the number of words needed to hold n elements.
func WordsFor(n int) int {
	return (n + Lanes - 1) / Lanes
}

// MakeWordBuf allocates a zeroed buffer holding at least n elements.
func MakeWordBuf(n int) WordBuf {
	return make(WordBuf, WordsFor(n))
}

// At returns element i.
func (b WordBuf) At(i int) fixpt.Data {
	return b[i/Lanes][i%Lanes]
}

// Set stores v as element i.
func (b WordBuf) Set(i int, v fixpt.Data) {
	b[i/Lanes][i%Lanes] = v
}

// PackData packs a flat element slice into a fresh buffer.
func PackData(vals []fixpt.Data) WordBuf {
	b := MakeWordBuf(len(vals))
	for i, v := range vals {
		b.Set(i, v)
	}
	return b
}

// Unpack returns the first n elements as a flat slice.
func (b WordBuf) Unpack(n int) []fixpt.Data {
	out := make([]fixpt.Data, n)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// wordAccess classifies how one storage word is updated by WriteRange.
type wordAccess int

const (
	// freshWrite replaces a fully-covered word without reading it.
	freshWrite wordAccess = iota
	// readModify loads the existing word first so slots outside the target
	// range — data already written by adjacent tiles — are preserved.
	readModify
)

// WriteRange stores vals as elements [base, base+len(vals)) with
// alignment-safe packing. Interior words fully covered by the range are
// written outright; boundary words that the range only partially fills are
// read, merged and written back. Plain unconditional word writes would
// corrupt neighboring data, so every word goes through this classification.
func (b WordBuf) WriteRange(base int, vals []fixpt.Data) {
	i := 0
	for i < len(vals) {
		w := (base + i) / Lanes
		slot := (base + i) % Lanes
		n := min(Lanes-slot, len(vals)-i)

		mode := freshWrite
		if n < Lanes {
			mode = readModify
		}

		var word Word
		if mode == readModify {
			word = b[w]
		}
		copy(word[slot:slot+n], vals[i:i+n])
		b[w] = word
		i += n
	}
}
