package experiment

import (
	"iter"
	"sync"
)

// Run is a scan executing on a background goroutine. The worker owns the
// store and the instrument until the scan ends; the caller only reads
// published snapshots. A started run cannot be cancelled.
type Run struct {
	done chan struct{}

	mu      sync.RWMutex
	latest  StepResult
	index   int
	headers []string
	rows    iter.Seq[Row]
	err     error
}

// Start runs e.Scan(endpoint, p) in the background.
func Start(e *Experiment, endpoint string, p Params) *Run {
	r := &Run{
		done:  make(chan struct{}),
		index: -1,
	}

	go func() {
		defer close(r.done)

		headers, rows, err := e.scan(endpoint, p, r.publish)

		r.mu.Lock()
		r.headers = headers
		r.rows = rows
		r.err = err
		r.mu.Unlock()
	}()

	return r
}

func (r *Run) publish(index int, result StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = result
	r.index = index
}

// Latest returns the most recently recorded step and its index. ok is false
// until the first step has been recorded.
func (r *Run) Latest() (result StepResult, index int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.index, r.index >= 0
}

// Done is closed when the scan has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the scan error once the scan has finished, nil before.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Wait blocks until the scan finishes and returns its result.
func (r *Run) Wait() ([]string, iter.Seq[Row], error) {
	<-r.done

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.headers, r.rows, r.err
}
