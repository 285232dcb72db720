package arduino

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// WriteTermination terminates every request sent to the instrument.
	WriteTermination = "\n"
	// ReadTermination terminates every reply received from the instrument.
	ReadTermination = "\r\n"

	identifyQuery = "*IDN?"
	outputQuery   = "OUT:CH0?"
	errorReply    = "ERR"
)

// CommandKind enumerates the requests understood by the instrument firmware.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandIdentify
	CommandSetOutput
	CommandGetOutput
	CommandMeasure
)

// Command is a parsed instrument request.
type Command struct {
	Kind    CommandKind
	Channel int // Input channel for CommandMeasure
	Value   int // Output code for CommandSetOutput
}

func outputCommand(code int) string {
	return fmt.Sprintf("OUT:CH0 %d", code)
}

func measureQuery(channel int) string {
	return fmt.Sprintf("MEAS:CH%d?", channel)
}

// ParseCommand parses a request line as the firmware does.
// Formats: "*IDN?", "OUT:CH0 <code>", "OUT:CH0?", "MEAS:CH<n>?".
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)

	switch {
	case line == identifyQuery:
		return Command{Kind: CommandIdentify}, nil

	case line == outputQuery:
		return Command{Kind: CommandGetOutput}, nil

	case strings.HasPrefix(line, "OUT:CH0 "):
		value, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "OUT:CH0 ")))
		if err != nil {
			return Command{}, fmt.Errorf("invalid output value: %w", err)
		}
		if value < 0 || value > Steps {
			return Command{}, fmt.Errorf("output value out of range: %d (max %d)", value, Steps)
		}
		return Command{Kind: CommandSetOutput, Value: value}, nil

	case strings.HasPrefix(line, "MEAS:CH") && strings.HasSuffix(line, "?"):
		channel, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "MEAS:CH"), "?"))
		if err != nil {
			return Command{}, fmt.Errorf("invalid channel: %w", err)
		}
		if channel != 1 && channel != 2 {
			return Command{}, fmt.Errorf("channel out of range: %d", channel)
		}
		return Command{Kind: CommandMeasure, Channel: channel}, nil
	}

	return Command{}, fmt.Errorf("unknown command %q", line)
}

// parseCode parses a numeric reply holding a converter code.
func parseCode(reply string) (int, error) {
	reply = strings.TrimSpace(reply)
	if reply == errorReply {
		return 0, fmt.Errorf("instrument rejected the command")
	}
	code, err := strconv.Atoi(reply)
	if err != nil {
		return 0, fmt.Errorf("malformed reply %q: %w", reply, err)
	}
	if code < 0 || code > Steps {
		return 0, fmt.Errorf("reply out of range: %d (max %d)", code, Steps)
	}
	return code, nil
}
