package deposition

// Recorder is a Sink that keeps every bead in memory.
type Recorder struct {
	beads   [][]Sample
	current []Sample
}

// AddSample appends s to the current bead.
func (r *Recorder) AddSample(s Sample) {
	r.current = append(r.current, s)
}

// Close ends the current bead. Closing with no open bead does nothing.
func (r *Recorder) Close() {
	if len(r.current) == 0 {
		return
	}
	r.beads = append(r.beads, r.current)
	r.current = nil
}

// Beads returns the finished beads.
func (r *Recorder) Beads() [][]Sample { return r.beads }

// Bridges returns the finished beads flagged as bridges.
func (r *Recorder) Bridges() [][]Sample {
	var out [][]Sample
	for _, b := range r.beads {
		if b[0].Bridge {
			out = append(out, b)
		}
	}
	return out
}

// TakeBeads returns the finished beads and forgets them. An open bead
// stays open.
func (r *Recorder) TakeBeads() [][]Sample {
	b := r.beads
	r.beads = nil
	return b
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.beads = nil
	r.current = nil
}

type multiSink []Sink

func (m multiSink) AddSample(s Sample) {
	for _, k := range m {
		k.AddSample(s)
	}
}

func (m multiSink) Close() {
	for _, k := range m {
		k.Close()
	}
}

// MultiSink duplicates samples to every non-nil sink.
func MultiSink(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}
