package ps2

import (
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

// SerialConfig describes the serial port of a PS/2-to-UART adapter that
// streams raw Set 2 bytes to the host.
type SerialConfig struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baudRate"`
}

// SerialSource reads scan code bytes from a serial port. Reads use a
// very short timeout so a poll never stalls the scan loop.
type SerialSource struct {
	log  *zap.Logger
	port serial.Port
	buf  [1]byte
	err  bool
}

func OpenSerial(log *zap.Logger, cfg SerialConfig) (*SerialSource, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Port,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	return &SerialSource{log: log, port: port}, nil
}

func (s *SerialSource) Recv() uint8 {
	n, err := s.port.Read(s.buf[:])
	if err != nil || n == 0 {
		s.err = true
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			s.log.Warn("serial read failed", zap.Error(err))
		}
		return 0
	}
	s.err = false
	return s.buf[0]
}

func (s *SerialSource) Error() bool { return s.err }

func (s *SerialSource) Close() error {
	return s.port.Close()
}
