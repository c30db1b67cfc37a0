package panel

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	baudRate    = 9600
	readTimeout = 100 * time.Millisecond
)

// OpenSerial opens the panel's serial device at 9600 8N1 with a bounded read
// timeout, so a silent panel never wedges the control surface.
func OpenSerial(device string) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial device %s: %w", device, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()

		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}

	return port, nil
}
