package hidreport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hidbridge/hidbridge/internal/keymap"
	"github.com/hidbridge/hidbridge/internal/ps2"
)

type sentKeys struct {
	mod  uint8
	keys []uint8
}

type fakeSender struct {
	keys     []sentKeys
	consumer []uint16
}

func (s *fakeSender) SendKeys(modifier uint8, keys []uint8) {
	s.keys = append(s.keys, sentKeys{mod: modifier, keys: append([]uint8(nil), keys...)})
}

func (s *fakeSender) SendConsumer(code uint16) {
	s.consumer = append(s.consumer, code)
}

func newTestBuilder(t *testing.T) (*Builder, *ps2.Matrix, *fakeSender) {
	var matrix ps2.Matrix
	sender := &fakeSender{}
	return New(zaptest.NewLogger(t), &matrix, sender), &matrix, sender
}

func TestKeyReport(t *testing.T) {
	b, matrix, sender := newTestBuilder(t)

	matrix.Make(0x1C) // A
	b.Update()
	require.Len(t, sender.keys, 1)
	assert.Equal(t, sentKeys{mod: 0, keys: []uint8{keymap.KeyA}}, sender.keys[0])

	// no change, no report
	b.Update()
	assert.Len(t, sender.keys, 1)

	matrix.Break(0x1C)
	b.Update()
	require.Len(t, sender.keys, 2)
	assert.Empty(t, sender.keys[1].keys)
}

func TestModifiers(t *testing.T) {
	b, matrix, sender := newTestBuilder(t)

	matrix.Make(0x12) // left shift
	matrix.Make(0x94) // E0 14, right control
	matrix.Make(0x1C)
	b.Update()
	require.Len(t, sender.keys, 1)
	assert.Equal(t, uint8(keymap.ModLeftShift|keymap.ModRightCtrl), sender.keys[0].mod)
	assert.Equal(t, []uint8{keymap.KeyA}, sender.keys[0].keys)
}

func TestConsumerKey(t *testing.T) {
	b, matrix, sender := newTestBuilder(t)

	matrix.Make(0xA3) // E0 23, mute
	b.Update()
	require.Equal(t, []uint16{keymap.ConsumerMute}, sender.consumer)
	assert.Empty(t, sender.keys, "media positions emit no key report")

	matrix.Break(0xA3)
	b.Update()
	assert.Equal(t, []uint16{keymap.ConsumerMute, 0}, sender.consumer)
}

func TestUnboundPositionsIgnored(t *testing.T) {
	b, matrix, sender := newTestBuilder(t)
	matrix.Make(0x00)
	b.Update()
	assert.Empty(t, sender.keys)
	assert.Empty(t, sender.consumer)
}

func TestClearReleasesHeldState(t *testing.T) {
	b, matrix, sender := newTestBuilder(t)
	matrix.Make(0x12)
	matrix.Make(0x1C)
	matrix.Make(0xA3)
	b.Update()

	b.Clear()
	require.Len(t, sender.keys, 2)
	assert.Equal(t, sentKeys{mod: 0, keys: nil}, sender.keys[1])
	assert.Equal(t, uint16(0), sender.consumer[len(sender.consumer)-1])

	// idempotent
	b.Clear()
	assert.Len(t, sender.keys, 2)
}

func TestKeysInPositionOrder(t *testing.T) {
	b, matrix, sender := newTestBuilder(t)
	matrix.Make(0x44) // O
	matrix.Make(0x1C) // A
	b.Update()
	require.Len(t, sender.keys, 1)
	assert.Equal(t, []uint8{keymap.KeyA, keymap.KeyO}, sender.keys[0].keys)
}
