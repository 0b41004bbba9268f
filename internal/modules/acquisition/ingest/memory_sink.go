package ingest

import (
	"context"
	"sync"
)

// MemorySink accepts every SIP except those named in Reject. It records submitted batches.
type MemorySink struct {
	mu      sync.Mutex
	Reject  map[string]string
	Err     error
	batches []Batch
}

func NewMemorySink() *MemorySink {
	return &MemorySink{Reject: map[string]string{}}
}

func (s *MemorySink) Submit(ctx context.Context, batch Batch) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return BatchResult{}, s.Err
	}
	s.batches = append(s.batches, batch)
	out := BatchResult{Results: make([]Result, 0, len(batch.SIPs))}
	for _, sip := range batch.SIPs {
		if reason, ok := s.Reject[sip.ProductName]; ok {
			out.Results = append(out.Results, Result{ProductName: sip.ProductName, Error: reason})
			continue
		}
		out.Results = append(out.Results, Result{ProductName: sip.ProductName, Accepted: true})
	}
	return out, nil
}

func (s *MemorySink) Batches() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch(nil), s.batches...)
}
