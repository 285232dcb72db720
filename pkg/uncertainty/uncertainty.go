// Package uncertainty derives the LED quantities of the series circuit and
// propagates the uncertainty of the measured voltages into them.
package uncertainty

import (
	"fmt"
	"math"

	"github.com/itohio/godiode/pkg/daqerr"
)

// Measurement is a measured value with its standard error.
type Measurement struct {
	Value float64
	Err   float64
}

// Derived holds the quantities computed for one sweep step.
type Derived struct {
	Current    float64 // A
	CurrentErr float64
	LEDVolt    float64 // V
	LEDVoltErr float64
}

// Propagate derives current and LED voltage from the total voltage across the
// circuit and the voltage across the load resistor. The load is treated as
// exact, so the current error scales linearly; the LED voltage is a difference
// of independent quantities and its error is their quadrature sum.
func Propagate(loadOhm float64, total, resistor Measurement) (Derived, error) {
	if loadOhm == 0 {
		return Derived{}, fmt.Errorf("%w: loads of zero are not allowed", daqerr.ErrInvalidArgument)
	}

	return Derived{
		Current:    resistor.Value / loadOhm,
		CurrentErr: resistor.Err / loadOhm,
		LEDVolt:    total.Value - resistor.Value,
		LEDVoltErr: math.Hypot(total.Err, resistor.Err),
	}, nil
}

// Power returns the power dissipated by a load at voltage volts, U²/R.
func Power(loadOhm, volts float64) (float64, error) {
	if loadOhm == 0 {
		return 0, fmt.Errorf("%w: loads of zero are not allowed", daqerr.ErrInvalidArgument)
	}
	return volts * volts / loadOhm, nil
}
