package arduino

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/daqerr"
)

// thermalVoltage is kT/q at room temperature (V).
const thermalVoltage = 0.02585

// Mock simulates the instrument firmware driving a series resistor and LED.
// Channel 1 observes the output voltage, channel 2 the resistor voltage.
type Mock struct {
	cfg *config.MockConfig

	mu        sync.Mutex
	rng       *rand.Rand
	connected bool
	output    int
	queries   int
	commands  []string
}

// NewMock creates a new mocked instrument.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	return &Mock{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// MockDialer returns a Dialer handing out a fresh connected Mock per dial.
// Every created mock is passed to observe when it is not nil.
func MockDialer(cfg *config.MockConfig, observe func(endpoint string, m *Mock)) Dialer {
	return func(endpoint string) (Transport, error) {
		m := NewMock(cfg)
		if err := m.Connect(); err != nil {
			return nil, err
		}
		if observe != nil {
			observe(endpoint, m)
		}
		return m, nil
	}
}

// Connect simulates opening the port.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("%w: already connected", daqerr.ErrConnection)
	}
	m.connected = true
	return nil
}

// Close simulates closing the port.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the mock is connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Commands returns a copy of every command received so far.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.commands))
	copy(result, m.commands)
	return result
}

// Output returns the simulated output code.
func (m *Mock) Output() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

// Query answers command the way the firmware does.
func (m *Mock) Query(command string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return "", fmt.Errorf("%w: not connected", daqerr.ErrProtocol)
	}

	m.commands = append(m.commands, command)
	m.queries++
	if m.cfg.FailAfter > 0 && m.queries > m.cfg.FailAfter {
		return "", fmt.Errorf("%w: no reply to %q: timed out", daqerr.ErrProtocol, command)
	}

	cmd, err := ParseCommand(command)
	if err != nil {
		return errorReply, nil
	}

	switch cmd.Kind {
	case CommandIdentify:
		if m.cfg.NoIdentify {
			return "", fmt.Errorf("%w: no reply to %q: timed out", daqerr.ErrProtocol, command)
		}
		return m.cfg.Identification, nil
	case CommandSetOutput:
		m.output = cmd.Value
		return strconv.Itoa(cmd.Value), nil
	case CommandGetOutput:
		return strconv.Itoa(m.output), nil
	case CommandMeasure:
		return strconv.Itoa(m.measure(cmd.Channel)), nil
	}

	return errorReply, nil
}

// measure returns the channel code for the current output. Must hold mu.
func (m *Mock) measure(channel int) int {
	total := float64(m.output) * stepVolts
	volts := total
	if channel == 2 {
		volts = total - m.ledVoltage(total)
	}

	code := AnalogToDigital(volts)
	if m.cfg.NoiseCodes > 0 {
		code += m.rng.Intn(2*m.cfg.NoiseCodes+1) - m.cfg.NoiseCodes
	}
	return max(0, min(Steps, code))
}

// ledVoltage solves total = Vd + R*Is*(exp(Vd/(n*Vt))-1) for the LED voltage
// Vd by bisection. The left side grows monotonically with Vd.
func (m *Mock) ledVoltage(total float64) float64 {
	if total <= 0 {
		return 0
	}

	r := m.cfg.ResistorLoad
	is := m.cfg.SaturationCurrent
	nvt := m.cfg.Ideality * thermalVoltage

	lo, hi := 0.0, total
	for range 60 {
		mid := (lo + hi) / 2
		if mid+r*is*math.Expm1(mid/nvt) > total {
			hi = mid
		} else {
			lo = mid
		}
	}
	return (lo + hi) / 2
}
