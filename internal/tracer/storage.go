package tracer

import "sync"

type chunk struct {
	data  []byte
	first bool
}

// storage collects finished track buffers until tracing is disabled.
type storage struct {
	mu     sync.Mutex
	chunks []chunk
}

func (s *storage) add(data []byte, first bool) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk{data: data, first: first})
	s.mu.Unlock()
}

// drain returns the stored buffers as one trace, with the chunk holding the
// sequence header ahead of all others, and empties the storage.
func (s *storage) drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.chunks {
		n += len(c.data)
	}
	out := make([]byte, 0, n)
	for _, c := range s.chunks {
		if c.first {
			out = append(out, c.data...)
		}
	}
	for _, c := range s.chunks {
		if !c.first {
			out = append(out, c.data...)
		}
	}
	s.chunks = nil
	return out
}

func (s *storage) reset() {
	s.mu.Lock()
	s.chunks = nil
	s.mu.Unlock()
}
