package gps

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"go.bug.st/serial"
)

func openSerial(path string, baud int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return p, nil
}

// autoDetectDevice picks the first USB CDC-ACM port, then the first USB
// serial adapter.
func autoDetectDevice() string {
	ports, err := serial.GetPortsList()
	if err != nil {
		return ""
	}
	return pickDevice(ports)
}

func pickDevice(ports []string) string {
	sort.Strings(ports)
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for _, p := range ports {
			if strings.HasPrefix(p, prefix) {
				return p
			}
		}
	}
	return ""
}
