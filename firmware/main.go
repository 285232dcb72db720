//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"strconv"
	"time"
)

var (
	adcCH1 machine.ADC
	adcCH2 machine.ADC
	dac    = machine.DAC0
	uart   = machine.UART0

	// Last output code written to the DAC
	outputCode int

	// Serial buffer for reading lines
	serialBuffer [LINE_LENGTH]byte
	serialPos    int
	overflow     bool
)

func main() {
	PIN_OUTPUT.Configure(machine.PinConfig{Mode: machine.PinAnalog})
	dac.Configure(machine.DACConfig{})
	setOutput(0)

	PIN_CH1.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_CH2.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcCH1 = machine.ADC{Pin: PIN_CH1}
	adcCH2 = machine.ADC{Pin: PIN_CH2}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	adcCH1.Configure(adcConfig)
	adcCH2.Configure(adcConfig)

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	for {
		processSerial()
		time.Sleep(100 * time.Microsecond)
	}
}

// processSerial collects request bytes and answers every complete line.
func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 || overflow {
				if overflow {
					reply("ERR")
				} else {
					handle(string(serialBuffer[:serialPos]))
				}
			}
			serialPos = 0
			overflow = false
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			overflow = true
		}
	}
}

// handle answers one request line.
// Requests: "*IDN?", "OUT:CH0 <code>", "OUT:CH0?", "MEAS:CH1?", "MEAS:CH2?".
func handle(line string) {
	switch line {
	case "*IDN?":
		reply(IDENTIFICATION)
		return
	case "OUT:CH0?":
		reply(strconv.Itoa(outputCode))
		return
	case "MEAS:CH1?":
		reply(strconv.Itoa(readCode(adcCH1)))
		return
	case "MEAS:CH2?":
		reply(strconv.Itoa(readCode(adcCH2)))
		return
	}

	const setOutputPrefix = "OUT:CH0 "
	if len(line) > len(setOutputPrefix) && line[:len(setOutputPrefix)] == setOutputPrefix {
		code, err := strconv.Atoi(line[len(setOutputPrefix):])
		if err != nil || code < 0 || code > MAX_CODE {
			reply("ERR")
			return
		}
		setOutput(code)
		reply(strconv.Itoa(outputCode))
		return
	}

	reply("ERR")
}

func setOutput(code int) {
	outputCode = code
	// The DAC takes a left aligned 16-bit value.
	dac.Set(uint16(code) << (16 - ADC_RESOLUTION))
}

// readCode samples an input and scales it to the converter range.
func readCode(adc machine.ADC) int {
	return int(adc.Get() >> (16 - ADC_RESOLUTION))
}

func reply(s string) {
	uart.Write([]byte(s))
	uart.Write([]byte("\r\n"))
}
