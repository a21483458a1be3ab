// Package blesim models the BLE coprocessor's SPI slave: SDEP framing,
// AT command handling, and the CS/IRQ handshake. It backs the transport
// tests and lets the bridge run end-to-end on a host with no hardware
// attached.
package blesim

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/sdep"
)

// Coprocessor is wired to the master through its SPI/CS/IRQ/Reset
// endpoints. Frame boundaries follow the chip select: a frame is parsed
// when CS rises at the end of a write session.
type Coprocessor struct {
	log *zap.Logger

	cs    *hostPin
	reset *hostPin

	inSession bool
	reading   bool
	rx        []uint8
	tx        []uint8

	atBuf []uint8

	// Commands records every completed AT command in arrival order.
	Commands []string

	// Connected is reported by AT+GAPGETCONN.
	Connected bool
	// EventMask is reported (and then cleared) by AT+EVENTSTATUS.
	EventMask uint32
	// VBat is reported by AT+HWVBAT, millivolts.
	VBat int
	// NotReadyProbes makes the next n readiness probes NAK with 0xFE.
	NotReadyProbes int
	// Stuck swallows completed commands without responding; the IRQ
	// line stays low.
	Stuck bool
	// FailCommands lists command prefixes answered with ERROR.
	FailCommands []string
}

func New(log *zap.Logger) *Coprocessor {
	c := &Coprocessor{log: log, VBat: 3231}
	c.cs = &hostPin{level: true, onRise: c.endSession}
	c.reset = &hostPin{level: true, onRise: c.reboot}
	return c
}

// SPI returns the bus endpoint; the coprocessor itself is the slave.
func (c *Coprocessor) SPI() *Coprocessor { return c }

func (c *Coprocessor) CSPin() sdep.Pin    { return c.cs }
func (c *Coprocessor) ResetPin() sdep.Pin { return c.reset }
func (c *Coprocessor) IRQPin() sdep.Pin   { return irqPin{c} }

func (c *Coprocessor) reboot() {
	c.inSession = false
	c.reading = false
	c.rx = nil
	c.tx = nil
	c.atBuf = nil
}

// Transfer exchanges one byte. The first byte of a session decides its
// direction: a dummy 0x00 while response data is queued clocks the
// response out, anything else starts a command write.
func (c *Coprocessor) Transfer(b uint8) (uint8, error) {
	if !c.inSession {
		if b == 0x00 && len(c.tx) > 0 {
			c.inSession = true
			c.reading = true
			return c.pop(), nil
		}
		if c.NotReadyProbes > 0 {
			c.NotReadyProbes--
			return sdep.TypeSlaveNotReady, nil
		}
		c.inSession = true
		c.reading = false
		c.rx = append(c.rx[:0], b)
		return 0x00, nil
	}
	if c.reading {
		return c.pop(), nil
	}
	c.rx = append(c.rx, b)
	return 0x00, nil
}

func (c *Coprocessor) Tx(w, r []uint8) error {
	for _, b := range w {
		if _, err := c.Transfer(b); err != nil {
			return err
		}
	}
	for i := range r {
		got, err := c.Transfer(0x00)
		if err != nil {
			return err
		}
		r[i] = got
	}
	return nil
}

func (c *Coprocessor) pop() uint8 {
	if len(c.tx) == 0 {
		return 0x00
	}
	b := c.tx[0]
	c.tx = c.tx[1:]
	return b
}

// endSession fires when CS rises; a completed write session is parsed
// as one SDEP frame.
func (c *Coprocessor) endSession() {
	if !c.inSession {
		return
	}
	wasRead := c.reading
	c.inSession = false
	c.reading = false
	if wasRead {
		return
	}
	frm, ok := sdep.Unmarshal(c.rx)
	c.rx = c.rx[:0]
	if !ok || frm.Type != sdep.TypeCommand || frm.Command != sdep.CmdATWrapper {
		return
	}
	c.atBuf = append(c.atBuf, frm.Payload[:frm.Len]...)
	if frm.More {
		return
	}
	cmd := string(c.atBuf)
	c.atBuf = nil
	c.complete(cmd)
}

func (c *Coprocessor) complete(cmd string) {
	c.Commands = append(c.Commands, cmd)
	if c.Stuck {
		return
	}
	c.queueResponse(c.respond(cmd))
}

func (c *Coprocessor) respond(cmd string) string {
	for _, prefix := range c.FailCommands {
		if strings.HasPrefix(cmd, prefix) {
			return "ERROR\r\n"
		}
	}
	switch {
	case cmd == "ATI":
		return "BLESPIFRIEND\r\nnRF51822 QFACA10\r\n0.6.7\r\nOK\r\n"
	case cmd == "AT+GAPGETCONN":
		if c.Connected {
			return "1\r\nOK\r\n"
		}
		return "0\r\nOK\r\n"
	case cmd == "AT+EVENTSTATUS":
		mask := c.EventMask
		c.EventMask = 0
		return fmt.Sprintf("0x%04X\r\nOK\r\n", mask)
	case cmd == "AT+HWVBAT":
		return fmt.Sprintf("%d\r\nOK\r\n", c.VBat)
	default:
		return "OK\r\n"
	}
}

// queueResponse fragments text into Response frames and raises IRQ by
// way of the queued bytes.
func (c *Coprocessor) queueResponse(text string) {
	payload := []uint8(text)
	for {
		n := len(payload)
		more := false
		if n > sdep.MaxPayload {
			n = sdep.MaxPayload
			more = true
		}
		frm := sdep.Frame{
			Type:    sdep.TypeResponse,
			Command: sdep.CmdATWrapper,
			Len:     uint8(n),
			More:    more,
		}
		copy(frm.Payload[:], payload[:n])
		c.tx = append(c.tx, frm.Marshal()...)
		if !more {
			return
		}
		payload = payload[n:]
	}
}

// hostPin is a master-driven line with edge hooks.
type hostPin struct {
	level  bool
	onRise func()
}

func (p *hostPin) High() {
	if !p.level {
		p.level = true
		if p.onRise != nil {
			p.onRise()
		}
	}
}

func (p *hostPin) Low()      { p.level = false }
func (p *hostPin) Get() bool { return p.level }

// irqPin is driven by the coprocessor: high while response bytes are
// queued or an event mask is pending.
type irqPin struct {
	c *Coprocessor
}

func (p irqPin) High()     {}
func (p irqPin) Low()      {}
func (p irqPin) Get() bool { return len(p.c.tx) > 0 || p.c.EventMask != 0 }
