// Package hidreport turns the key matrix into HID reports: a modifier
// byte plus the held keycodes, and a consumer-control usage for the
// media positions.
package hidreport

import (
	"slices"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/keymap"
	"github.com/hidbridge/hidbridge/internal/ps2"
)

// Sender queues reports towards the host; the BLE transport implements
// it.
type Sender interface {
	SendKeys(modifier uint8, keys []uint8)
	SendConsumer(code uint16)
}

// Builder diffs the matrix against the last emitted reports and sends
// only actual changes.
type Builder struct {
	log    *zap.Logger
	matrix *ps2.Matrix
	sender Sender

	lastMod      uint8
	lastKeys     []uint8
	lastConsumer uint16
}

func New(log *zap.Logger, matrix *ps2.Matrix, sender Sender) *Builder {
	return &Builder{log: log, matrix: matrix, sender: sender}
}

// Update scans the matrix and emits whatever reports changed. Keys are
// collected in position order, which keeps successive reports stable.
func (b *Builder) Update() {
	var mod uint8
	var keys []uint8
	var consumer uint16

	for r := uint8(0); r < ps2.MatrixRows; r++ {
		rowBits := b.matrix.Row(r)
		if rowBits == 0 {
			continue
		}
		for c := uint8(0); c < 8; c++ {
			if rowBits&(1<<c) == 0 {
				continue
			}
			entry := keymap.At(r<<3 | c)
			switch {
			case entry.Modifier != 0:
				mod |= entry.Modifier
			case entry.Keycode != 0:
				keys = append(keys, entry.Keycode)
			case entry.Consumer != 0:
				consumer = entry.Consumer
			}
		}
	}

	if mod != b.lastMod || !slices.Equal(keys, b.lastKeys) {
		b.sender.SendKeys(mod, keys)
		b.lastMod = mod
		b.lastKeys = keys
	}
	if consumer != b.lastConsumer {
		b.sender.SendConsumer(consumer)
		b.lastConsumer = consumer
	}
}

// Clear releases everything the host may still believe is held. Used
// after decoder desync or overrun.
func (b *Builder) Clear() {
	if b.lastMod != 0 || len(b.lastKeys) > 0 {
		b.sender.SendKeys(0, nil)
		b.lastMod = 0
		b.lastKeys = nil
	}
	if b.lastConsumer != 0 {
		b.sender.SendConsumer(0)
		b.lastConsumer = 0
	}
}
