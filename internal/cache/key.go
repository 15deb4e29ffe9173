package cache

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"math"
	"strconv"
)

// KeyBuilder folds inputs into a 64-bit FNV-1a digest. Every value is
// written with a type tag and vectors with their length, so ("ab", "c") and
// ("a", "bc") hash differently.
type KeyBuilder struct {
	h   hash.Hash64
	buf [8]byte
}

// NewKey starts a key.
func NewKey() *KeyBuilder {
	return &KeyBuilder{h: fnv.New64a()}
}

func (b *KeyBuilder) tag(t byte) {
	b.h.Write([]byte{t})
}

func (b *KeyBuilder) u64(v uint64) {
	binary.LittleEndian.PutUint64(b.buf[:], v)
	b.h.Write(b.buf[:])
}

// String adds s.
func (b *KeyBuilder) String(s string) *KeyBuilder {
	b.tag('s')
	b.u64(uint64(len(s)))
	b.h.Write([]byte(s))
	return b
}

// Int adds v.
func (b *KeyBuilder) Int(v ...int) *KeyBuilder {
	b.tag('i')
	b.u64(uint64(len(v)))
	for _, x := range v {
		b.u64(uint64(int64(x)))
	}
	return b
}

// Bool adds v.
func (b *KeyBuilder) Bool(v bool) *KeyBuilder {
	b.tag('b')
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Float64s adds a vector by its IEEE 754 bits.
func (b *KeyBuilder) Float64s(v []float64) *KeyBuilder {
	b.tag('f')
	b.u64(uint64(len(v)))
	for _, x := range v {
		b.u64(math.Float64bits(x))
	}
	return b
}

// Float64Grid adds a row-major grid of float vectors.
func (b *KeyBuilder) Float64Grid(v [][]float64) *KeyBuilder {
	b.tag('g')
	b.u64(uint64(len(v)))
	for _, row := range v {
		b.Float64s(row)
	}
	return b
}

// Key returns the digest as a hex string.
func (b *KeyBuilder) Key() string {
	return strconv.FormatUint(b.h.Sum64(), 16)
}
