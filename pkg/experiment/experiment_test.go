package experiment

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/itohio/godiode/pkg/arduino"
	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/daqerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBench hands out mock instruments and remembers them.
type mockBench struct {
	cfg   config.MockConfig
	mu    sync.Mutex
	dials []string
	mocks []*arduino.Mock
}

func newMockBench() *mockBench {
	return &mockBench{cfg: config.Default().Mock}
}

func (b *mockBench) dialer() arduino.Dialer {
	return arduino.MockDialer(&b.cfg, func(endpoint string, m *arduino.Mock) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.dials = append(b.dials, endpoint)
		b.mocks = append(b.mocks, m)
	})
}

func (b *mockBench) last(t *testing.T) *arduino.Mock {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.mocks)
	return b.mocks[len(b.mocks)-1]
}

// fixedTransport replies with constant channel codes.
type fixedTransport struct {
	ch1, ch2 int
	closed   bool
}

func (f *fixedTransport) Query(command string) (string, error) {
	cmd, err := arduino.ParseCommand(command)
	if err != nil {
		return "ERR", nil
	}
	switch cmd.Kind {
	case arduino.CommandMeasure:
		if cmd.Channel == 1 {
			return strconv.Itoa(f.ch1), nil
		}
		return strconv.Itoa(f.ch2), nil
	case arduino.CommandSetOutput:
		return strconv.Itoa(cmd.Value), nil
	}
	return "fixed", nil
}

func (f *fixedTransport) Close() error {
	f.closed = true
	return nil
}

func collect(t *testing.T, headers []string, rows func(func(Row) bool)) []Row {
	t.Helper()
	require.Len(t, headers, Columns)
	var result []Row
	for row := range rows {
		result = append(result, row)
	}
	return result
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 0.0, p.StartVolts)
	assert.Equal(t, 3.3, p.StopVolts)
	assert.Equal(t, 220.0, p.ResistorLoad)
	assert.Equal(t, 5, p.SampleSize)
	assert.NoError(t, p.Validate())
	assert.Equal(t, 1024, p.Steps())
}

func TestParamsFromConfig(t *testing.T) {
	p := ParamsFromConfig(config.Default().Scan)
	assert.Equal(t, DefaultParams(), p)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Params)
		wantErr bool
	}{
		{"defaults", func(p *Params) {}, false},
		{"single step", func(p *Params) { p.StartVolts, p.StopVolts = 1.65, 1.65 }, false},
		{"inverted range", func(p *Params) { p.StartVolts, p.StopVolts = 2.0, 1.0 }, true},
		{"negative start", func(p *Params) { p.StartVolts = -0.1 }, true},
		{"stop above reference", func(p *Params) { p.StopVolts = 3.5 }, true},
		{"NaN start", func(p *Params) { p.StartVolts = math.NaN() }, true},
		{"zero load", func(p *Params) { p.ResistorLoad = 0 }, true},
		{"zero sample size", func(p *Params) { p.SampleSize = 0 }, true},
		{"single sample", func(p *Params) { p.SampleSize = 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, daqerr.ErrInvalidArgument)
			} else {
				assert.NoError(t, err)
			}

			cfg := config.Default()
			cfg.Scan = config.ScanConfig{
				StartVolts:   p.StartVolts,
				StopVolts:    p.StopVolts,
				ResistorLoad: p.ResistorLoad,
				SampleSize:   p.SampleSize,
			}
			assert.Equal(t, err == nil, cfg.Validate() == nil, "config validation agrees with the scan")
		})
	}
}

func TestScan_FullSweep(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	headers, rows, err := e.Scan("mock0", DefaultParams())
	require.NoError(t, err)

	got := collect(t, headers, rows)
	want := arduino.AnalogToDigital(3.3) - arduino.AnalogToDigital(0.0) + 1
	assert.Equal(t, 1024, want)
	assert.Len(t, got, want)

	results := e.Results()
	require.Len(t, results, want)
	for i, r := range results {
		assert.Equal(t, i, r.Code)
		assert.Equal(t, 220.0, r.ResistorLoad)
		assert.Equal(t, r.Row(), got[i])
	}

	m := bench.last(t)
	assert.False(t, m.IsConnected(), "instrument must be released")
	assert.Equal(t, 0, m.Output(), "output must be back at rest")

	commands := m.Commands()
	assert.Equal(t, "*IDN?", commands[0])
	assert.Equal(t, "OUT:CH0 0", commands[len(commands)-1])
	assert.Len(t, commands, 1+want*(1+2*5)+1)
}

func TestScan_AcquisitionOrder(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 1.0, 1.01
	p.SampleSize = 3

	_, _, err := e.Scan("mock0", p)
	require.NoError(t, err)

	start := arduino.AnalogToDigital(1.0)
	var want []string
	want = append(want, "*IDN?")
	for code := start; code <= arduino.AnalogToDigital(1.01); code++ {
		want = append(want, fmt.Sprintf("OUT:CH0 %d", code))
		for range 3 {
			want = append(want, "MEAS:CH1?", "MEAS:CH2?")
		}
	}
	want = append(want, "OUT:CH0 0")
	assert.Equal(t, want, bench.last(t).Commands())
}

func TestScan_SingleStep(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 1.65, 1.65

	headers, rows, err := e.Scan("mock0", p)
	require.NoError(t, err)
	assert.Len(t, collect(t, headers, rows), 1)
	assert.Equal(t, 1, p.Steps())
}

func TestScan_SingleSampleHasNoError(t *testing.T) {
	bench := newMockBench()
	bench.cfg.NoiseCodes = 5
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 2.5, 3.0
	p.SampleSize = 1

	_, _, err := e.Scan("mock0", p)
	require.NoError(t, err)

	for _, r := range e.Results() {
		assert.Equal(t, 0.0, r.TotalVoltErr)
		assert.Equal(t, 0.0, r.ResistorVoltErr)
		assert.Equal(t, 0.0, r.LEDVoltErr)
		assert.Equal(t, 0.0, r.CurrentErr)
	}
}

func TestScan_NoisyErrors(t *testing.T) {
	bench := newMockBench()
	bench.cfg.NoiseCodes = 5
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 2.5, 2.6
	p.SampleSize = 20

	_, _, err := e.Scan("mock0", p)
	require.NoError(t, err)

	for _, r := range e.Results() {
		assert.Greater(t, r.TotalVoltErr, 0.0)
		assert.InDelta(t, math.Hypot(r.TotalVoltErr, r.ResistorVoltErr), r.LEDVoltErr, 1e-12)
		assert.InDelta(t, r.ResistorVoltErr/220, r.CurrentErr, 1e-15)
	}
}

func TestScan_ChannelMapping(t *testing.T) {
	tr := &fixedTransport{ch1: 620, ch2: 155}
	e := New(WithDialer(func(string) (arduino.Transport, error) { return tr, nil }))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 2.0, 2.0

	_, _, err := e.Scan("fixed", p)
	require.NoError(t, err)

	results := e.Results()
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, 2.0, r.TotalVolt)
	assert.Equal(t, 0.5, r.ResistorVolt)
	assert.InDelta(t, 1.5, r.LEDVolt, 1e-12)
	assert.InDelta(t, 0.5/220, r.Current, 1e-15)
	assert.Equal(t, 0.0, r.TotalVoltErr)
	assert.True(t, tr.closed)
}

func TestScan_ZeroLoad(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.ResistorLoad = 0

	_, _, err := e.Scan("mock0", p)
	assert.ErrorIs(t, err, daqerr.ErrInvalidArgument)
	assert.Empty(t, bench.dials)
	assert.Equal(t, 0, e.store.Len())
}

func TestScan_InvertedRange(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	// A previous result must survive a rejected call.
	p := DefaultParams()
	p.StartVolts, p.StopVolts = 1.0, 1.0
	_, _, err := e.Scan("mock0", p)
	require.NoError(t, err)
	require.Len(t, bench.dials, 1)

	p.StartVolts, p.StopVolts = 2.0, 1.0
	_, _, err = e.Scan("mock0", p)
	assert.ErrorIs(t, err, daqerr.ErrInvalidArgument)
	assert.Len(t, bench.dials, 1, "no device interaction expected")
	assert.Equal(t, 1, e.store.Len())
}

func TestScan_InvalidSampleSize(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.SampleSize = 0
	_, _, err := e.Scan("mock0", p)
	assert.ErrorIs(t, err, daqerr.ErrInvalidArgument)
	assert.Empty(t, bench.dials)
}

func TestScan_ProtocolErrorAborts(t *testing.T) {
	bench := newMockBench()
	bench.cfg.FailAfter = 50
	e := New(WithDialer(bench.dialer()))

	headers, rows, err := e.Scan("mock0", DefaultParams())
	assert.ErrorIs(t, err, daqerr.ErrProtocol)
	assert.Nil(t, headers)
	assert.Nil(t, rows)
	assert.Equal(t, 0, e.store.Len(), "a failed scan leaves no partial results")
	assert.False(t, bench.last(t).IsConnected(), "instrument must be released on error")
}

func TestScan_ConnectionError(t *testing.T) {
	e := New(WithDialer(func(endpoint string) (arduino.Transport, error) {
		return nil, errors.New("port busy")
	}))

	_, _, err := e.Scan("COM9", DefaultParams())
	assert.ErrorIs(t, err, daqerr.ErrConnection)
	assert.Equal(t, 0, e.store.Len())
}

func TestScan_IdentifyUnsupported(t *testing.T) {
	bench := newMockBench()
	bench.cfg.NoIdentify = true
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 3.0, 3.3

	headers, rows, err := e.Scan("mock0", p)
	require.NoError(t, err)
	assert.Len(t, collect(t, headers, rows), p.Steps())
}

func TestScan_ClearsPreviousResults(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 1.0, 1.1
	_, _, err := e.Scan("mock0", p)
	require.NoError(t, err)
	first := e.store.Len()

	p.StartVolts, p.StopVolts = 2.0, 2.0
	headers, rows, err := e.Scan("mock0", p)
	require.NoError(t, err)

	assert.Greater(t, first, 1)
	assert.Len(t, collect(t, headers, rows), 1)
	assert.Len(t, bench.dials, 2, "every scan opens its own adapter")
}

func TestScan_ExportIsIdempotent(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 2.8, 3.0
	_, rows, err := e.Scan("mock0", p)
	require.NoError(t, err)

	h1, r1 := e.Export()
	h2, r2 := e.Export()
	assert.Equal(t, h1, h2)

	first := collect(t, h1, r1)
	assert.Equal(t, first, collect(t, h2, r2))
	assert.Equal(t, first, collect(t, h1, rows))
	assert.Equal(t, first, collect(t, h1, r1), "rows can be iterated again")
}

func TestScan_OnStep(t *testing.T) {
	bench := newMockBench()
	e := New(WithDialer(bench.dialer()))

	var indices, codes []int
	e.OnStep(func(index int, r StepResult) {
		indices = append(indices, index)
		codes = append(codes, r.Code)
	})

	p := DefaultParams()
	p.StartVolts, p.StopVolts = 1.0, 1.02
	_, _, err := e.Scan("mock0", p)
	require.NoError(t, err)

	require.Len(t, indices, p.Steps())
	for i := range indices {
		assert.Equal(t, i, indices[i])
	}
	assert.True(t, slices.IsSorted(codes))
	assert.Equal(t, arduino.AnalogToDigital(1.0), codes[0])
}

func TestScan_CurrentRisesAboveThreshold(t *testing.T) {
	bench := newMockBench()
	bench.cfg.NoiseCodes = 0
	e := New(WithDialer(bench.dialer()))

	_, _, err := e.Scan("mock0", DefaultParams())
	require.NoError(t, err)

	results := e.Results()
	assert.Equal(t, 0.0, results[0].Current)
	last := results[len(results)-1]
	assert.Greater(t, last.Current, 1e-3)
	assert.InDelta(t, last.TotalVolt-last.ResistorVolt, last.LEDVolt, 1e-12)
	assert.Greater(t, last.LEDVolt, 1.5)
}
