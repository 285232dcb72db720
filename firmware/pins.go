//go:build tinygo

package main

import "machine"

const (
	// Identification returned for *IDN?
	IDENTIFICATION = "Arduino VISA firmware v1.0.0"

	// Converter configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 10   // Converter resolution in bits (10-bit = 0-1023)
	MAX_CODE         = 1<<ADC_RESOLUTION - 1

	// Output pin driving the resistor + LED circuit (SAMD21 DAC)
	PIN_OUTPUT = machine.A0

	// Input pins: CH1 measures the total voltage, CH2 the voltage across the resistor
	PIN_CH1 = machine.A1
	PIN_CH2 = machine.A2

	// Serial configuration
	// Longest request is "OUT:CH0 1023\n", replies are at most the identification line
	UART_BAUD_RATE = 9600
	LINE_LENGTH    = 32
)
