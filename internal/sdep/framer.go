package sdep

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/drivers"
)

// Transfer timeouts. Commands get the long deadline; the pump uses the
// short one so a busy coprocessor cannot stall the scan loop.
const (
	Timeout      = 150 * time.Millisecond
	ShortTimeout = 10 * time.Millisecond
	BackOff      = 25 * time.Microsecond

	irqPollInterval = time.Microsecond
)

var (
	ErrNotReady = errors.New("sdep: slave stayed busy past the deadline")
	ErrNoIRQ    = errors.New("sdep: no response pending within the deadline")
	ErrBadFrame = errors.New("sdep: malformed frame header")
	ErrSPI      = errors.New("sdep: spi transfer failed")
)

// Framer sends and receives SDEP frames over a half-duplex SPI link with
// the coprocessor's CS/IRQ handshake. All waits are bounded spins; the
// framer never blocks past the given timeout.
type Framer struct {
	log   *zap.Logger
	spi   drivers.SPI
	cs    Pin
	irq   Pin
	clock Clock
}

func NewFramer(log *zap.Logger, spi drivers.SPI, cs, irq Pin, clock Clock) *Framer {
	return &Framer{log: log, spi: spi, cs: cs, irq: irq, clock: clock}
}

// IRQ reports whether the coprocessor has response data queued.
func (f *Framer) IRQ() bool {
	return f.irq.Get()
}

// Send writes one frame. The type byte doubles as the readiness probe:
// while the slave echoes SlaveNotReady the chip select is released for
// BackOff and the probe retried, up to the deadline.
func (f *Framer) Send(frm *Frame, timeout time.Duration) error {
	f.cs.Low()
	defer f.cs.High()

	deadline := f.clock.Now().Add(timeout)
	ready := false
	for {
		echo, err := f.spi.Transfer(frm.Type)
		if err != nil {
			return ErrSPI
		}
		if echo != TypeSlaveNotReady {
			ready = true
			break
		}
		if !f.clock.Now().Before(deadline) {
			break
		}
		// release the bus and let the slave settle
		f.cs.High()
		f.clock.Sleep(BackOff)
		f.cs.Low()
	}
	if !ready {
		f.log.Debug("send timed out, slave not ready")
		return ErrNotReady
	}

	h := frm.header()
	rest := append(h[1:headerSize], frm.Payload[:frm.Len]...)
	if err := f.spi.Tx(rest, nil); err != nil {
		return ErrSPI
	}
	return nil
}

// Recv reads one frame. It first waits for the IRQ line, then clocks the
// type byte, backing off on SlaveNotReady/SlaveOverflow within the same
// deadline.
func (f *Framer) Recv(frm *Frame, timeout time.Duration) error {
	deadline := f.clock.Now().Add(timeout)
	for !f.irq.Get() {
		if !f.clock.Now().Before(deadline) {
			return ErrNoIRQ
		}
		f.clock.Sleep(irqPollInterval)
	}

	f.cs.Low()
	defer f.cs.High()

	for {
		t, err := f.spi.Transfer(0x00)
		if err != nil {
			return ErrSPI
		}
		if t == TypeSlaveNotReady || t == TypeSlaveOverflow {
			if !f.clock.Now().Before(deadline) {
				return ErrNotReady
			}
			f.cs.High()
			f.clock.Sleep(BackOff)
			f.cs.Low()
			continue
		}

		var h [headerSize]uint8
		h[0] = t
		if err := f.spi.Tx(nil, h[1:]); err != nil {
			return ErrSPI
		}
		if !frm.parseHeader(h) {
			return ErrBadFrame
		}
		if frm.Len > 0 {
			if err := f.spi.Tx(nil, frm.Payload[:frm.Len]); err != nil {
				return ErrSPI
			}
		}
		return nil
	}
}
