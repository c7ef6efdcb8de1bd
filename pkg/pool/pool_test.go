// Unit tests for object pools
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sort"
	"sync"
	"testing"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 0},
		{16, 0},
		{17, 1},
		{32, 1},
		{33, 2},
		{1000, 6},
		{1 << 19, 15},
		{1<<19 + 1, -1},
	}
	for _, tt := range tests {
		if got := classOf(tt.n); got != tt.want {
			t.Errorf("classOf(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestFloat64SlicePool(t *testing.T) {
	sizes := []int{1, 3, 16, 17, 100, 1000}

	for _, size := range sizes {
		s := GetFloat64Slice(size)
		if len(s) != size {
			t.Errorf("expected slice of size %d, got %d", size, len(s))
		}
		if c := cap(s); c&(c-1) != 0 {
			t.Errorf("size %d: capacity %d is not a class size", size, c)
		}

		for i := range s {
			s[i] = 100.5
		}
		PutFloat64Slice(s)

		// Get again - should be zeroed
		s2 := GetFloat64Slice(size)
		for i, v := range s2 {
			if v != 0 {
				t.Errorf("size %d: slice[%d] should be 0, got %f", size, i, v)
				break
			}
		}
		PutFloat64Slice(s2)
	}
}

func TestFloat64SlicePoolForeign(t *testing.T) {
	// Slices that did not come from the pool should not panic
	PutFloat64Slice(nil)
	PutFloat64Slice(make([]float64, 7))
	PutFloat64Slice(make([]float64, 5, 32))

	huge := GetFloat64Slice(1<<19 + 1)
	if len(huge) != 1<<19+1 {
		t.Errorf("expected oversized slice, got %d", len(huge))
	}
	PutFloat64Slice(huge)
}

func TestFloat64SliceSortScratch(t *testing.T) {
	data := []float64{3, 1, 2, 5, 4}
	s := GetFloat64Slice(len(data))
	copy(s, data)
	sort.Float64s(s)
	PutFloat64Slice(s)

	if data[0] != 3 {
		t.Error("scratch copy aliased its source")
	}
}

func TestByteBuffer(t *testing.T) {
	b := GetByteBuffer()
	if b == nil {
		t.Fatal("GetByteBuffer returned nil")
	}

	b.Write([]byte("hello"))
	b.Write([]byte(" world"))

	if b.Len() != 11 {
		t.Errorf("expected length 11, got %d", b.Len())
	}
	if string(b.Bytes()) != "hello world" {
		t.Errorf("unexpected content: %s", string(b.Bytes()))
	}

	PutByteBuffer(b)

	// Get again - should be reset
	b2 := GetByteBuffer()
	if b2.Len() != 0 {
		t.Errorf("pooled buffer should be empty, got length %d", b2.Len())
	}
	PutByteBuffer(b2)
}

func TestByteBufferOversized(t *testing.T) {
	b := GetByteBuffer()
	b.Write(make([]byte, 100*1024))
	// Should not be pooled due to size
	PutByteBuffer(b)

	b2 := GetByteBuffer()
	if b2.Len() != 0 {
		t.Errorf("pooled buffer should be empty, got length %d", b2.Len())
	}
	PutByteBuffer(b2)
}

func TestByteBufferNil(t *testing.T) {
	// Should not panic
	PutByteBuffer(nil)
}

// Concurrent tests

func TestFloat64SlicePoolConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	iterations := 1000
	goroutines := 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				s := GetFloat64Slice(n)
				s[0] = 100
				PutFloat64Slice(s)
			}
		}(8 + i*20)
	}

	wg.Wait()
}

func TestByteBufferPoolConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	iterations := 1000
	goroutines := 10

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				b := GetByteBuffer()
				b.Write([]byte("test"))
				PutByteBuffer(b)
			}
		}()
	}

	wg.Wait()
}

// Benchmarks

func BenchmarkFloat64SlicePool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := GetFloat64Slice(1000)
		s[0] = 100
		PutFloat64Slice(s)
	}
}

func BenchmarkFloat64SliceNoPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := make([]float64, 1000)
		s[0] = 100
		_ = s
	}
}

func BenchmarkByteBufferPool(b *testing.B) {
	data := []byte(`{"jsonrpc":"2.0","result":{"line":12,"lines":40},"id":7}`)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf := GetByteBuffer()
		buf.Write(data)
		PutByteBuffer(buf)
	}
}
