// Object pools for reducing GC pressure in hot paths
//
// Provides reusable buffers for commonly allocated types:
// - Float slices (run-length scratch space for statistics)
// - Byte buffers (JSON encoding of API responses)
//
// Usage:
//
//	s := pool.GetFloat64Slice(n)
//	defer pool.PutFloat64Slice(s)
//	// use s...
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"math/bits"
	"sync"
)

// Float slices are pooled by capacity class: class k holds slices with
// capacity 1<<(k+minClassBits).
const (
	minClassBits = 4
	numClasses   = 16 // up to 1<<19 elements
)

var floatSlicePools [numClasses]sync.Pool

// classOf returns the pool class able to hold n elements, or -1 when n
// is too large to pool.
func classOf(n int) int {
	if n <= 1<<minClassBits {
		return 0
	}
	k := bits.Len(uint(n-1)) - minClassBits
	if k >= numClasses {
		return -1
	}
	return k
}

// GetFloat64Slice returns a zeroed slice of length n. Slices too large
// for any class are allocated directly.
func GetFloat64Slice(n int) []float64 {
	k := classOf(n)
	if k < 0 {
		return make([]float64, n)
	}
	if p, ok := floatSlicePools[k].Get().(*[]float64); ok {
		s := (*p)[:n]
		clear(s)
		return s
	}
	return make([]float64, n, 1<<(k+minClassBits))
}

// PutFloat64Slice returns s to its pool. Slices whose capacity is not
// a class size are dropped.
func PutFloat64Slice(s []float64) {
	c := cap(s)
	if c == 0 {
		return
	}
	k := classOf(c)
	if k < 0 || c != 1<<(k+minClassBits) {
		return
	}
	s = s[:0]
	floatSlicePools[k].Put(&s)
}

// ByteBuffer pool - for encoding buffers
type ByteBuffer struct {
	buf []byte
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{
			buf: make([]byte, 0, 512),
		}
	},
}

// GetByteBuffer gets an empty byte buffer from the pool
func GetByteBuffer() *ByteBuffer {
	b := byteBufferPool.Get().(*ByteBuffer)
	b.buf = b.buf[:0] // Reset length but keep capacity
	return b
}

// PutByteBuffer returns a byte buffer to the pool
func PutByteBuffer(b *ByteBuffer) {
	if b == nil {
		return
	}
	// Status responses with bead lists can be large; don't keep them (> 64KB)
	if cap(b.buf) > 64*1024 {
		return
	}
	byteBufferPool.Put(b)
}

// Bytes returns the buffer's byte slice
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of buffered bytes
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// Write appends bytes to the buffer
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}
