package experiment

import (
	"fmt"
	"iter"
	"sync"

	"github.com/itohio/godiode/pkg/daqerr"
)

// Columns is the number of exported columns.
const Columns = 9

// headers name the exported columns. Downstream writers rely on this order.
var headers = [Columns]string{
	"Total voltage (V)",
	"Total V error",
	"Resistor Voltage (V)",
	"Resistor V error",
	"LED voltage (V)",
	"LED V error",
	"Current (A)",
	"Current error",
	"Resistor load (Ohm)",
}

// Headers returns the exported column names.
func Headers() []string {
	h := headers
	return h[:]
}

// Row is one exported record aligned to Headers.
type Row [Columns]float64

// StepResult is the atomic record produced for one visited output code.
type StepResult struct {
	Code            int     // Output code of the step
	ResistorLoad    float64 // Ohm
	TotalVolt       float64 // V
	TotalVoltErr    float64
	ResistorVolt    float64 // V
	ResistorVoltErr float64
	LEDVolt         float64 // V
	LEDVoltErr      float64
	Current         float64 // A
	CurrentErr      float64
}

// Row returns the record in column order.
func (r StepResult) Row() Row {
	return Row{
		r.TotalVolt,
		r.TotalVoltErr,
		r.ResistorVolt,
		r.ResistorVoltErr,
		r.LEDVolt,
		r.LEDVoltErr,
		r.Current,
		r.CurrentErr,
		r.ResistorLoad,
	}
}

// Store is the ordered, append only record of one scan. Readers get copies,
// so a snapshot stays valid while a scan keeps appending.
type Store struct {
	mu      sync.RWMutex
	results []StepResult
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		results: make([]StepResult, 0),
	}
}

// Clear drops all records.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = s.results[:0:0]
}

// Append adds r after the last record and returns its index.
func (s *Store) Append(r StepResult) (int, error) {
	if r.ResistorLoad == 0 {
		return 0, fmt.Errorf("%w: loads of zero are not allowed", daqerr.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return len(s.results) - 1, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Results returns a copy of the records in sweep order.
func (s *Store) Results() []StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]StepResult, len(s.results))
	copy(result, s.results)
	return result
}

// Latest returns the most recently appended record.
func (s *Store) Latest() (StepResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.results) == 0 {
		return StepResult{}, false
	}
	return s.results[len(s.results)-1], true
}

// Export returns the column names and a lazy sequence of rows over a snapshot
// of the records. Every export of an unchanged store yields the same rows.
func (s *Store) Export() ([]string, iter.Seq[Row]) {
	results := s.Results()

	return Headers(), func(yield func(Row) bool) {
		for _, r := range results {
			if !yield(r.Row()) {
				return
			}
		}
	}
}
