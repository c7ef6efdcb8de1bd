// Unit tests for Prometheus metrics implementation
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounterBasic(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")

	if v := c.Get(nil); v != 0 {
		t.Errorf("expected initial value 0, got %d", v)
	}
	c.Inc(nil)
	c.Add(nil, 10)
	if v := c.Get(nil); v != 11 {
		t.Errorf("expected value 11, got %d", v)
	}
}

func TestCounterWithLabels(t *testing.T) {
	c := NewCounter("runs_total", "Runs")

	c.Inc(Labels{"kind": "dangling"})
	c.Inc(Labels{"kind": "dangling"})
	c.Inc(Labels{"kind": "overlap"})

	if v := c.Get(Labels{"kind": "dangling"}); v != 2 {
		t.Errorf("expected dangling count 2, got %d", v)
	}

	var sb strings.Builder
	c.Write(&sb)
	out := sb.String()
	if !strings.Contains(out, "# TYPE runs_total counter") {
		t.Errorf("missing TYPE line:\n%s", out)
	}
	// series are sorted by label key
	d := strings.Index(out, `runs_total{kind="dangling"} 2`)
	o := strings.Index(out, `runs_total{kind="overlap"} 1`)
	if d < 0 || o < 0 || d > o {
		t.Errorf("unexpected series output:\n%s", out)
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter("concurrent_total", "Concurrent")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc(nil)
			}
		}()
	}
	wg.Wait()
	if v := c.Get(nil); v != 8000 {
		t.Errorf("expected 8000, got %d", v)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("flow", "Flow")
	g.Set(nil, 1.5)
	g.Set(nil, 1)
	if v := g.Get(nil); v != 1 {
		t.Errorf("expected 1, got %v", v)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("run_mm", "Run length", []float64{1, 0.5, 2})
	for _, v := range []float64{0.2, 0.5, 0.7, 1.9, 4} {
		h.Observe(nil, v)
	}

	snap := h.GetSnapshot(nil)
	if snap.Count != 5 {
		t.Errorf("count = %d, want 5", snap.Count)
	}
	want := map[float64]uint64{0.5: 2, 1: 3, 2: 4}
	for bound, n := range want {
		if snap.Buckets[bound] != n {
			t.Errorf("bucket le=%v = %d, want %d", bound, snap.Buckets[bound], n)
		}
	}

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, line := range []string{
		`run_mm_bucket{le="0.5"} 2`,
		`run_mm_bucket{le="+Inf"} 5`,
		`run_mm_count 5`,
	} {
		if !strings.Contains(out, line) {
			t.Errorf("missing %q in:\n%s", line, out)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	got := formatLabels(Labels{"b": `say "hi"`, "a": "x\ny"})
	want := `{a="x\ny",b="say \"hi\""}`
	if got != want {
		t.Errorf("formatLabels = %s, want %s", got, want)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewCounter("dup", "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewGauge("dup", "")); err == nil {
		t.Error("expected duplicate registration error")
	}
	if r.Get("dup") == nil {
		t.Error("Get should return the first metric")
	}
}
