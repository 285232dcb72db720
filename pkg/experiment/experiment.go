// Package experiment sweeps the instrument output across the resistor and LED
// circuit and records one StepResult per visited output code.
package experiment

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/itohio/godiode/pkg/arduino"
	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/daqerr"
	"github.com/itohio/godiode/pkg/sample"
	"github.com/itohio/godiode/pkg/telemetry"
	"github.com/itohio/godiode/pkg/uncertainty"
	"github.com/rs/zerolog"
)

// Params are the sweep parameters of one scan.
type Params struct {
	StartVolts   float64
	StopVolts    float64
	ResistorLoad float64 // Ohm
	SampleSize   int     // Readings per channel per step
}

// DefaultParams sweeps the full output range over 220 Ohm with 5 samples.
func DefaultParams() Params {
	return Params{
		StartVolts:   0.0,
		StopVolts:    arduino.VRef,
		ResistorLoad: 220,
		SampleSize:   5,
	}
}

// ParamsFromConfig converts the scan section of the configuration.
func ParamsFromConfig(cfg config.ScanConfig) Params {
	return Params{
		StartVolts:   cfg.StartVolts,
		StopVolts:    cfg.StopVolts,
		ResistorLoad: cfg.ResistorLoad,
		SampleSize:   cfg.SampleSize,
	}
}

// Validate checks p without touching any device.
func (p Params) Validate() error {
	if !(p.StartVolts >= 0 && p.StopVolts <= arduino.VRef) {
		return fmt.Errorf("%w: sweep %.2f..%.2f V outside [0, %.1f] V", daqerr.ErrInvalidArgument, p.StartVolts, p.StopVolts, arduino.VRef)
	}
	if !(p.StartVolts <= p.StopVolts) {
		return fmt.Errorf("%w: sweep stop %.2f V below start %.2f V", daqerr.ErrInvalidArgument, p.StopVolts, p.StartVolts)
	}
	if p.ResistorLoad == 0 {
		return fmt.Errorf("%w: loads of zero are not allowed", daqerr.ErrInvalidArgument)
	}
	if p.SampleSize < 1 {
		return fmt.Errorf("%w: sample size %d below 1", daqerr.ErrInvalidArgument, p.SampleSize)
	}
	return nil
}

// Steps returns the number of output codes the sweep visits.
func (p Params) Steps() int {
	return arduino.AnalogToDigital(p.StopVolts) - arduino.AnalogToDigital(p.StartVolts) + 1
}

// StepFunc observes a recorded step and its index in the store.
type StepFunc func(index int, r StepResult)

// Option configures an Experiment.
type Option func(*Experiment)

// WithDialer sets how endpoints are opened.
func WithDialer(dial arduino.Dialer) Option {
	return func(e *Experiment) {
		e.dial = dial
	}
}

// WithLogger sets the experiment logger. The adapter logs through it too.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Experiment) {
		e.logger = logger
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c telemetry.Collector) Option {
	return func(e *Experiment) {
		e.collector = c
	}
}

// Experiment runs LED scans. The store belongs to the experiment and Scan is
// its only mutator; scans on one Experiment are serialized.
type Experiment struct {
	store     *Store
	dial      arduino.Dialer
	logger    zerolog.Logger
	collector telemetry.Collector

	scanMu sync.Mutex

	callbacks []StepFunc
	cbMu      sync.RWMutex
}

// New creates an experiment. Without WithDialer endpoints are opened as serial
// ports with the default serial settings.
func New(opts ...Option) *Experiment {
	e := &Experiment{
		store:     NewStore(),
		dial:      arduino.SerialDialer(config.Default().Serial),
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
		callbacks: make([]StepFunc, 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnStep registers a callback invoked after every recorded step.
// The callback runs on the scanning goroutine and should return quickly.
func (e *Experiment) OnStep(callback StepFunc) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.callbacks = append(e.callbacks, callback)
}

// Clear drops the recorded results.
func (e *Experiment) Clear() {
	e.store.Clear()
}

// Export returns the recorded results as column names and rows.
func (e *Experiment) Export() ([]string, iter.Seq[Row]) {
	return e.store.Export()
}

// Results returns a copy of the recorded results.
func (e *Experiment) Results() []StepResult {
	return e.store.Results()
}

// Scan sweeps the output of the instrument at endpoint from p.StartVolts to
// p.StopVolts, one output code at a time, and returns the exported results.
// Invalid parameters are rejected before the instrument is opened. Any other
// failure aborts the scan and leaves the store empty; the instrument is
// released on every path.
func (e *Experiment) Scan(endpoint string, p Params) ([]string, iter.Seq[Row], error) {
	return e.scan(endpoint, p, nil)
}

func (e *Experiment) scan(endpoint string, p Params, observe StepFunc) (hdr []string, rows iter.Seq[Row], err error) {
	if err := p.Validate(); err != nil {
		e.collector.ObserveScan(0, 0, err)
		return nil, nil, err
	}

	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	started := time.Now()
	steps := 0
	defer func() {
		if err != nil {
			e.store.Clear()
			steps = 0
		}
		e.collector.ObserveScan(time.Since(started), steps, err)
	}()

	e.store.Clear()

	dev, err := arduino.Connect(endpoint, e.dial, arduino.WithLogger(e.logger))
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			e.logger.Warn().Err(cerr).Str("endpoint", endpoint).Msg("failed to release instrument")
		}
	}()

	startCode := arduino.AnalogToDigital(p.StartVolts)
	stopCode := arduino.AnalogToDigital(p.StopVolts)
	e.logger.Info().
		Str("endpoint", endpoint).
		Int("start_code", startCode).
		Int("stop_code", stopCode).
		Float64("resistor_load", p.ResistorLoad).
		Int("sample_size", p.SampleSize).
		Msg("scan started")

	for code := startCode; code <= stopCode; code++ {
		result, err := e.step(dev, code, p)
		if err != nil {
			return nil, nil, fmt.Errorf("scan step at code %d: %w", code, err)
		}

		index, err := e.store.Append(result)
		if err != nil {
			return nil, nil, fmt.Errorf("scan step at code %d: %w", code, err)
		}
		steps++
		e.collector.IncStep()

		e.logger.Debug().
			Int("code", code).
			Float64("led_volt", result.LEDVolt).
			Float64("current", result.Current).
			Msg("step recorded")

		if observe != nil {
			observe(index, result)
		}
		e.notifyCallbacks(index, result)
	}

	// Turn the LED off.
	if err := dev.SetOutputCode(0); err != nil {
		return nil, nil, fmt.Errorf("reset output: %w", err)
	}

	e.logger.Info().Int("steps", steps).Dur("elapsed", time.Since(started)).Msg("scan finished")

	hdr, rows = e.store.Export()
	return hdr, rows, nil
}

// step sets the output to code, samples both channels SampleSize times and
// derives the step result. Each repetition reads channel 1 then channel 2
// under the same output.
func (e *Experiment) step(dev *arduino.Adapter, code int, p Params) (StepResult, error) {
	if err := dev.SetOutputCode(code); err != nil {
		return StepResult{}, err
	}

	totalBatch := sample.NewBatch(p.SampleSize)
	resistorBatch := sample.NewBatch(p.SampleSize)
	for range p.SampleSize {
		total, err := dev.ReadInputVolts(1)
		if err != nil {
			return StepResult{}, err
		}
		resistor, err := dev.ReadInputVolts(2)
		if err != nil {
			return StepResult{}, err
		}
		totalBatch.Add(total)
		resistorBatch.Add(resistor)
	}

	total, err := totalBatch.Reduce()
	if err != nil {
		return StepResult{}, fmt.Errorf("total voltage: %w", err)
	}
	resistor, err := resistorBatch.Reduce()
	if err != nil {
		return StepResult{}, fmt.Errorf("resistor voltage: %w", err)
	}

	derived, err := uncertainty.Propagate(p.ResistorLoad,
		uncertainty.Measurement{Value: total.Mean, Err: total.StdErr},
		uncertainty.Measurement{Value: resistor.Mean, Err: resistor.StdErr},
	)
	if err != nil {
		return StepResult{}, err
	}

	return StepResult{
		Code:            code,
		ResistorLoad:    p.ResistorLoad,
		TotalVolt:       total.Mean,
		TotalVoltErr:    total.StdErr,
		ResistorVolt:    resistor.Mean,
		ResistorVoltErr: resistor.StdErr,
		LEDVolt:         derived.LEDVolt,
		LEDVoltErr:      derived.LEDVoltErr,
		Current:         derived.Current,
		CurrentErr:      derived.CurrentErr,
	}, nil
}

// notifyCallbacks invokes all registered callbacks without holding locks.
func (e *Experiment) notifyCallbacks(index int, r StepResult) {
	e.cbMu.RLock()
	callbacks := make([]StepFunc, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(index, r)
		}
	}
}
