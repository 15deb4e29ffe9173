package storage

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// Blobs are little endian float64 values. Complex values are stored as
// interleaved real and imaginary parts, flags as one byte per value.

func appendFloats(b []byte, v []float64) []byte {
	for _, f := range v {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(f))
	}
	return b
}

func appendComplex(b []byte, v []complex128) []byte {
	for _, c := range v {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(real(c)))
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(imag(c)))
	}
	return b
}

func appendBools(b []byte, v []bool) []byte {
	for _, f := range v {
		if f {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	}
	return b
}

func encodeFloats2D(v [][]float64) []byte {
	var b []byte
	for _, row := range v {
		b = appendFloats(b, row)
	}
	return b
}

func encodeComplex2D(v [][]complex128) []byte {
	var b []byte
	for _, row := range v {
		b = appendComplex(b, row)
	}
	return b
}

func encodeBools2D(v [][]bool) []byte {
	var b []byte
	for _, row := range v {
		b = appendBools(b, row)
	}
	return b
}

func checkBlobLen(b []byte, want int) error {
	if len(b) != want {
		return fmt.Errorf("%w: blob has %d bytes, expected %d", ErrCorrupt, len(b), want)
	}
	return nil
}

func decodeFloats(b []byte, n int) ([]float64, error) {
	if err := checkBlobLen(b, 8*n); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out, nil
}

func decodeFloats2D(b []byte, rows, cols int) ([][]float64, error) {
	flat, err := decodeFloats(b, rows*cols)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, rows)
	for r := range out {
		out[r] = flat[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return out, nil
}

func decodeComplex2D(b []byte, rows, cols int) ([][]complex128, error) {
	flat, err := decodeFloats(b, 2*rows*cols)
	if err != nil {
		return nil, err
	}
	out := make([][]complex128, rows)
	for r := range out {
		out[r] = make([]complex128, cols)
		for c := range out[r] {
			i := 2 * (r*cols + c)
			out[r][c] = complex(flat[i], flat[i+1])
		}
	}
	return out, nil
}

func decodeBools2D(b []byte, rows, cols int) ([][]bool, error) {
	if err := checkBlobLen(b, rows*cols); err != nil {
		return nil, err
	}
	out := make([][]bool, rows)
	for r := range out {
		out[r] = make([]bool, cols)
		for c := range out[r] {
			out[r][c] = b[r*cols+c] != 0
		}
	}
	return out, nil
}

// encodeWgts flattens [freq][2][pol] weights.
func encodeWgts(w [][2][]float64) []byte {
	var b []byte
	for _, f := range w {
		b = appendFloats(b, f[0])
		b = appendFloats(b, f[1])
	}
	return b
}

func decodeWgts(b []byte, nfreqs, npols int) ([][2][]float64, error) {
	flat, err := decodeFloats(b, 2*nfreqs*npols)
	if err != nil {
		return nil, err
	}
	out := make([][2][]float64, nfreqs)
	for f := range out {
		base := 2 * f * npols
		out[f][0] = flat[base : base+npols : base+npols]
		out[f][1] = flat[base+npols : base+2*npols : base+2*npols]
	}
	return out, nil
}

// encodeCov flattens [dly][dly][pol] covariances.
func encodeCov(c [][][]complex128) []byte {
	var b []byte
	for _, row := range c {
		for _, col := range row {
			b = appendComplex(b, col)
		}
	}
	return b
}

func decodeCov(b []byte, ndlys, npols int) ([][][]complex128, error) {
	flat, err := decodeComplex2D(b, ndlys*ndlys, npols)
	if err != nil {
		return nil, err
	}
	out := make([][][]complex128, ndlys)
	for i := range out {
		out[i] = flat[i*ndlys : (i+1)*ndlys : (i+1)*ndlys]
	}
	return out, nil
}
