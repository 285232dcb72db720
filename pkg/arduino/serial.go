package arduino

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/daqerr"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the baud rate of the instrument firmware.
	DefaultBaudRate = 9600
	// DefaultTimeout bounds the wait for a single reply line.
	DefaultTimeout = 2 * time.Second

	maxLineLength = 256
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// serialPort is the part of serial.Port the transport relies on.
type serialPort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Serial is a Transport over a serial port.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration

	conn      serialPort
	pending   []byte
	mu        sync.Mutex
	connected bool
}

// NewSerial creates a serial transport for port. Zero values select the defaults.
func NewSerial(port string, baudRate int, timeout time.Duration) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		timeout:  timeout,
	}
}

// SerialDialer returns a Dialer opening serial transports with cfg settings.
// The endpoint passed to the dialer takes precedence over cfg.Port.
func SerialDialer(cfg config.SerialConfig) Dialer {
	return func(endpoint string) (Transport, error) {
		if endpoint == "" {
			endpoint = cfg.Port
		}
		s := NewSerial(endpoint, cfg.BaudRate, cfg.Timeout)
		if err := s.Connect(); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Ports returns the available serial ports with a human readable description
// when the platform can provide one.
func Ports() ([]Port, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	descriptions := make(map[string]string)
	if details, err := enumerator.GetDetailedPortsList(); err == nil {
		for _, d := range details {
			if d.IsUSB {
				descriptions[d.Name] = fmt.Sprintf("%s (USB %s:%s)", d.Product, d.VID, d.PID)
			}
		}
	}

	result := make([]Port, 0, len(names))
	for _, name := range names {
		desc, ok := descriptions[name]
		if !ok {
			desc = name
		}
		result = append(result, Port{
			Name:        name,
			Description: desc,
		})
	}

	return result, nil
}

// ListDevices returns the identifiers of connectable endpoints.
func ListDevices() ([]string, error) {
	ports, err := Ports()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return names, nil
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("%w: already connected", daqerr.ErrConnection)
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %w", daqerr.ErrConnection, d.port, err)
	}
	if err := port.SetReadTimeout(d.timeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set read timeout on %s: %w", daqerr.ErrConnection, d.port, err)
	}

	d.conn = port
	d.pending = d.pending[:0]
	d.connected = true

	return nil
}

// Close closes the serial port. Closing a closed transport is a no-op.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false

	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", d.port, err)
	}
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Query writes command and blocks for the reply line.
func (d *Serial) Query(command string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return "", fmt.Errorf("%w: not connected", daqerr.ErrProtocol)
	}

	// Leftovers belong to a reply that already timed out.
	d.pending = d.pending[:0]
	if err := d.conn.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("%w: failed to discard stale input before %q: %w", daqerr.ErrProtocol, command, err)
	}

	if _, err := d.conn.Write([]byte(command + WriteTermination)); err != nil {
		return "", fmt.Errorf("%w: failed to send %q: %w", daqerr.ErrProtocol, command, err)
	}

	line, err := d.readLine()
	if err != nil {
		return "", fmt.Errorf("%w: no reply to %q: %w", daqerr.ErrProtocol, command, err)
	}
	return line, nil
}

// readLine reads until ReadTermination. The port returns (0, nil) when its
// read timeout expires.
func (d *Serial) readLine() (string, error) {
	buf := make([]byte, 64)
	term := []byte(ReadTermination)

	for {
		if i := bytes.Index(d.pending, term); i >= 0 {
			line := string(d.pending[:i])
			d.pending = d.pending[i+len(term):]
			return line, nil
		}
		if len(d.pending) > maxLineLength {
			return "", fmt.Errorf("reply exceeds %d bytes", maxLineLength)
		}

		n, err := d.conn.Read(buf)
		if n > 0 {
			d.pending = append(d.pending, buf[:n]...)
			continue
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("timed out after %s", d.timeout)
	}
}
