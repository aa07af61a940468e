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

// Package fixpt implements the two fixed-point formats used throughout the
// convolution pipeline: a 16-bit Q8.8 value type for activations and weights,
// and a 32-bit Q16.16 accumulator type for multiply-accumulate sums.
//
// Both formats share the same numeric rules:
//   - round to nearest on every narrowing conversion (add half of the
//     discarded LSB, then floor-shift)
//   - saturate on overflow (clamp to the representable min/max, never wrap)
//
// Any operation between two Data operands that can overflow Data must be
// carried out in Acc and explicitly converted back with AccToData; the
// conversion point is where rounding and saturation are applied.
package fixpt

// Data is a signed Q8.8 fixed-point value: 8 integer bits (including sign)
// and 8 fractional bits. The raw int16 equals value × 256.
type Data int16

// Acc is a signed Q16.16 fixed-point accumulator: 16 integer bits (including
// sign) and 16 fractional bits. The raw int32 equals value × 65536.
type Acc int32

const (
	// DataFracBits is the number of fractional bits in Data.
	DataFracBits = 8
	// AccFracBits is the number of fractional bits in Acc.
	AccFracBits = 16

	// DataOne is 1.0 in Data.
	DataOne Data = 1 << DataFracBits
	// AccOne is 1.0 in Acc.
	AccOne Acc = 1 << AccFracBits

	// DataMax and DataMin bound the representable Data range
	// ([−128, 128) in real terms).
	DataMax Data = 1<<15 - 1
	DataMin Data = -1 << 15

	// AccMax and AccMin bound the representable Acc range.
	AccMax Acc = 1<<31 - 1
	AccMin Acc = -1 << 31

	// leakyNum/leakyShift encode the leaky activation slope 13/128 ≈ 0.1016.
	leakyNum   = 13
	leakyShift = 7
)

// FromFloat32 converts f to Data with round-to-nearest and saturation.
func FromFloat32(f float32) Data {
	return FromFloat64(float64(f))
}

// FromFloat64 converts f to Data with round-to-nearest and saturation.
func FromFloat64(f float64) Data {
	return satData(int64(floorHalf(f * float64(DataOne))))
}

// AccFromFloat64 converts f to Acc with round-to-nearest and saturation.
func AccFromFloat64(f float64) Acc {
	return satAcc(int64(floorHalf(f * float64(AccOne))))
}

// Float32 returns the real value of d.
func (d Data) Float32() float32 { return float32(d) / float32(DataOne) }

// Float64 returns the real value of d.
func (d Data) Float64() float64 { return float64(d) / float64(DataOne) }

// Float64 returns the real value of a.
func (a Acc) Float64() float64 { return float64(a) / float64(AccOne) }

// Bits returns the raw two's-complement representation of d.
func (d Data) Bits() int16 { return int16(d) }

// FromBits reinterprets raw bits as a Data value.
func FromBits(bits int16) Data { return Data(bits) }

// DataToAcc widens d to the accumulator format. The conversion is exact:
// every Data value is representable in Acc.
func DataToAcc(d Data) Acc {
	return Acc(d) << (AccFracBits - DataFracBits)
}

// AccToData narrows a to the value format, rounding to nearest and
// saturating. This is the single point where MAC sums and batch-norm
// results re-enter the 16-bit domain.
func AccToData(a Acc) Data {
	shift := AccFracBits - DataFracBits
	r := (int64(a) + 1<<(shift-1)) >> shift
	return satData(r)
}

// MulData returns the widening product of two Data values. A Q8.8×Q8.8
// product carries exactly 16 fractional bits and its magnitude is below
// 2^14, so the result is exact in Acc — no rounding or saturation occurs.
func MulData(a, b Data) Acc {
	return Acc(int32(a) * int32(b))
}

// AccAdd returns a+b with saturation. This is the reduction operation of
// the multiply-accumulate loop.
func AccAdd(a, b Acc) Acc {
	return satAcc(int64(a) + int64(b))
}

// AccMulData multiplies an accumulator by a Data scale factor, staying in
// the accumulator format. The intermediate product carries 24 fractional
// bits; the narrowing back to 16 rounds to nearest and saturates. Used for
// the batch-norm scale multiply before truncation to Data.
func AccMulData(a Acc, s Data) Acc {
	p := int64(a) * int64(s)
	r := (p + 1<<(DataFracBits-1)) >> DataFracBits
	return satAcc(r)
}

// Leaky applies the negative-branch leaky scaling x·13/128. The input is
// widened to Acc, multiplied by 13, arithmetically shifted right by 7, and
// narrowed back with the usual rounding/saturation. Callers are expected
// to invoke this only for negative x; it is well defined for any input.
func Leaky(x Data) Data {
	t := int64(DataToAcc(x))
	t = (t * leakyNum) >> leakyShift
	return AccToData(satAcc(t))
}

// floorHalf rounds to nearest with ties toward +inf, matching the
// hardware rounding mode.
func floorHalf(v float64) float64 {
	f := v + 0.5
	i := float64(int64(f))
	if f < 0 && f != i {
		i--
	}
	return i
}

func satData(r int64) Data {
	if r > int64(DataMax) {
		return DataMax
	}
	if r < int64(DataMin) {
		return DataMin
	}
	return Data(r)
}

func satAcc(r int64) Acc {
	if r > int64(AccMax) {
		return AccMax
	}
	if r < int64(AccMin) {
		return AccMin
	}
	return Acc(r)
}
