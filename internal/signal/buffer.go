package signal

import "sync"

const DefaultCapacity = 5000

// Sample is one PPG reading. Time is seconds since the acquisition worker started.
type Sample struct {
	Seq   uint64
	Time  float64
	Value int
}

// Buffer is a bounded, time-ordered ring of samples. It is written by the
// acquisition worker and read by the session tick; every read returns a copy.
type Buffer struct {
	mu      sync.Mutex
	ring    []Sample
	head    int // index of the oldest sample
	size    int
	nextSeq uint64
	gen     uint64
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ring:    make([]Sample, capacity),
		nextSeq: 1,
	}
}

func (b *Buffer) Cap() int {
	return len(b.ring)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Generation identifies the current contents. Reset bumps it.
func (b *Buffer) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Append stores a sample, evicting the oldest one when full. A timestamp
// earlier than the newest stored one is raised to it.
func (b *Buffer) Append(t float64, value int) Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(t, value)
}

// AppendGen is Append guarded by a generation captured earlier. It reports
// false, storing nothing, when the buffer has been reset since.
func (b *Buffer) AppendGen(gen uint64, t float64, value int) (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return Sample{}, false
	}
	return b.appendLocked(t, value), true
}

func (b *Buffer) appendLocked(t float64, value int) Sample {
	if b.size > 0 {
		if last := b.at(b.size - 1); t < last.Time {
			t = last.Time
		}
	}
	s := Sample{Seq: b.nextSeq, Time: t, Value: value}
	b.nextSeq++

	if b.size < len(b.ring) {
		b.ring[(b.head+b.size)%len(b.ring)] = s
		b.size++
		return s
	}
	b.ring[b.head] = s
	b.head = (b.head + 1) % len(b.ring)
	return s
}

func (b *Buffer) at(i int) Sample {
	return b.ring[(b.head+i)%len(b.ring)]
}

// Snapshot returns every stored sample, oldest first.
func (b *Buffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Sample, b.size)
	for i := range b.size {
		out[i] = b.at(i)
	}
	return out
}

// Since returns the samples with Seq greater than seq, oldest first.
func (b *Buffer) Since(seq uint64) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.size
	for start > 0 && b.at(start-1).Seq > seq {
		start--
	}
	out := make([]Sample, 0, b.size-start)
	for i := start; i < b.size; i++ {
		out = append(out, b.at(i))
	}
	return out
}

// Window returns the samples whose time is within seconds of the newest one.
func (b *Buffer) Window(seconds float64) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	cutoff := b.at(b.size-1).Time - seconds
	start := b.size
	for start > 0 && b.at(start-1).Time >= cutoff {
		start--
	}
	out := make([]Sample, 0, b.size-start)
	for i := start; i < b.size; i++ {
		out = append(out, b.at(i))
	}
	return out
}

// Reset drops every sample and invalidates writers holding the old generation.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
	b.gen++
}
