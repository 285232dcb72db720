// Package sample reduces repeated readings of one channel into a mean and
// its standard error.
package sample

import (
	"fmt"
	"math"

	"github.com/itohio/godiode/pkg/daqerr"
)

// Stats is the reduction of one batch.
type Stats struct {
	Mean   float64
	StdErr float64
}

// Reduce returns the arithmetic mean of batch and its standard error, the
// population standard deviation divided by sqrt(sampleSize). A single sample
// carries no dispersion estimate, so sampleSize == 1 yields a zero error.
func Reduce(batch []float64, sampleSize int) (mean, stdErr float64, err error) {
	if len(batch) == 0 {
		return 0, 0, fmt.Errorf("%w: empty sample batch", daqerr.ErrInvalidArgument)
	}
	if sampleSize < 1 {
		return 0, 0, fmt.Errorf("%w: sample size %d below 1", daqerr.ErrInvalidArgument, sampleSize)
	}

	n := float64(len(batch))
	var sum float64
	for _, v := range batch {
		sum += v
	}
	mean = sum / n

	if sampleSize == 1 {
		return mean, 0, nil
	}

	var sq float64
	for _, v := range batch {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / n)

	return mean, std / math.Sqrt(float64(sampleSize)), nil
}

// Batch collects the readings of one channel at one sweep step.
type Batch struct {
	values []float64
}

// NewBatch creates a batch with room for size readings.
func NewBatch(size int) *Batch {
	return &Batch{values: make([]float64, 0, max(size, 0))}
}

// Add appends a reading.
func (b *Batch) Add(v float64) {
	b.values = append(b.values, v)
}

// Len returns the number of readings.
func (b *Batch) Len() int {
	return len(b.values)
}

// Values returns a copy of the readings in acquisition order.
func (b *Batch) Values() []float64 {
	result := make([]float64, len(b.values))
	copy(result, b.values)
	return result
}

// Reduce reduces the batch with its own length as the sample size.
func (b *Batch) Reduce() (Stats, error) {
	mean, stdErr, err := Reduce(b.values, len(b.values))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Mean: mean, StdErr: stdErr}, nil
}
