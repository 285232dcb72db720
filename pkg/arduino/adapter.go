package arduino

import (
	"fmt"
	"math"
	"sync"

	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/daqerr"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// VRef is the full scale voltage of both converters.
	VRef = config.FullScaleVolts
	// Steps is the highest converter code.
	Steps = 1023

	stepVolts = VRef / Steps
)

// DigitalToAnalog converts a converter code to volts rounded to two decimals.
// Together with AnalogToDigital this is only an inverse up to quantization:
// a code round trip may drift by up to two codes, while volts are stable
// after one round trip.
func DigitalToAnalog(code int) float64 {
	v, _ := decimal.NewFromFloat(float64(code) * stepVolts).Round(2).Float64()
	return v
}

// AnalogToDigital converts volts to the nearest converter code (ties to even).
func AnalogToDigital(volts float64) int {
	return int(math.RoundToEven(volts / stepVolts))
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// Adapter exposes unit aware primitives of one instrument. It owns its
// transport exclusively and must not be shared between scans.
type Adapter struct {
	transport Transport
	logger    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New wraps an opened transport.
func New(transport Transport, opts ...Option) *Adapter {
	a := &Adapter{
		transport: transport,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Connect opens endpoint with dial and queries the instrument identification.
// An instrument that does not answer the identification query is still usable;
// the failure is only logged.
func Connect(endpoint string, dial Dialer, opts ...Option) (*Adapter, error) {
	t, err := dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", daqerr.ErrConnection, endpoint, err)
	}

	a := New(t, opts...)
	id, err := a.Identify()
	if err != nil {
		a.logger.Warn().Err(err).Str("endpoint", endpoint).
			Msg("device does not respond to the identification query, try another port if the scan fails")
	} else {
		a.logger.Info().Str("endpoint", endpoint).Str("idn", id).Msg("connected")
	}
	return a, nil
}

// Identify returns the free text identification of the instrument.
func (a *Adapter) Identify() (string, error) {
	reply, err := a.transport.Query(identifyQuery)
	if err != nil {
		return "", fmt.Errorf("identification query: %w", err)
	}
	if reply == errorReply {
		return "", fmt.Errorf("%w: identification query not supported", daqerr.ErrProtocol)
	}
	return reply, nil
}

// SetOutputCode sets the analog output to code steps. The instrument must echo
// the code back; any other reply means replies are out of step with requests.
func (a *Adapter) SetOutputCode(code int) error {
	if code < 0 || code > Steps {
		return fmt.Errorf("%w: output code %d outside [0, %d]", daqerr.ErrInvalidArgument, code, Steps)
	}

	reply, err := a.transport.Query(outputCommand(code))
	if err != nil {
		return fmt.Errorf("set output %d: %w", code, err)
	}
	echo, err := parseCode(reply)
	if err != nil {
		return fmt.Errorf("%w: set output %d not acknowledged: %w", daqerr.ErrProtocol, code, err)
	}
	if echo != code {
		return fmt.Errorf("%w: set output %d acknowledged as %d", daqerr.ErrProtocol, code, echo)
	}

	a.logger.Trace().Int("code", code).Msg("output set")
	return nil
}

// OutputCode returns the code currently applied to the analog output.
func (a *Adapter) OutputCode() (int, error) {
	reply, err := a.transport.Query(outputQuery)
	if err != nil {
		return 0, fmt.Errorf("read output: %w", err)
	}
	code, err := parseCode(reply)
	if err != nil {
		return 0, fmt.Errorf("%w: read output: %w", daqerr.ErrProtocol, err)
	}
	return code, nil
}

// ReadInputCode measures input channel 1 or 2 and returns the raw code.
func (a *Adapter) ReadInputCode(channel int) (int, error) {
	if channel != 1 && channel != 2 {
		return 0, fmt.Errorf("%w: available channels are 1 and 2, got %d", daqerr.ErrInvalidArgument, channel)
	}

	reply, err := a.transport.Query(measureQuery(channel))
	if err != nil {
		return 0, fmt.Errorf("read channel %d: %w", channel, err)
	}
	code, err := parseCode(reply)
	if err != nil {
		return 0, fmt.Errorf("%w: read channel %d: %w", daqerr.ErrProtocol, channel, err)
	}
	return code, nil
}

// ReadInputVolts measures input channel 1 or 2 in volts.
func (a *Adapter) ReadInputVolts(channel int) (float64, error) {
	code, err := a.ReadInputCode(channel)
	if err != nil {
		return 0, err
	}
	return DigitalToAnalog(code), nil
}

// Close releases the transport. Only the first call has an effect.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.transport.Close()
	})
	return a.closeErr
}
