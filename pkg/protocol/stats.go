package protocol

import "sync"

// Outcome classifies how a request was answered.
type Outcome int

const (
	Corrected Outcome = iota // non-empty correction returned
	Empty                    // empty text in, or the model produced nothing usable
	Failed                   // malformed request, correction error or panic
)

// Totals is a snapshot of a Server's request counters.
type Totals struct {
	Requests    int
	Corrected   int
	Empty       int
	Failed      int
	InputChars  int
	OutputChars int
}

// Stats accumulates request counters. It is safe for concurrent use.
type Stats struct {
	mu     sync.Mutex
	totals Totals
}

// Add records one answered request.
func (s *Stats) Add(o Outcome, inChars, outChars int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals.Requests++
	s.totals.InputChars += inChars
	s.totals.OutputChars += outChars

	switch o {
	case Corrected:
		s.totals.Corrected++
	case Empty:
		s.totals.Empty++
	case Failed:
		s.totals.Failed++
	}
}

// Totals returns the counters recorded so far.
func (s *Stats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.totals
}
