package keymap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hidbridge/hidbridge/internal/ps2"
)

func TestBareCodes(t *testing.T) {
	assert.Equal(t, Entry{Keycode: KeyA}, At(0x1C))
	assert.Equal(t, Entry{Keycode: KeyEscape}, At(0x76))
	assert.Equal(t, Entry{Modifier: ModLeftShift}, At(0x12))
}

func TestE0PrefixedCodes(t *testing.T) {
	assert.Equal(t, Entry{Keycode: KeyUp}, At(0xF5))
	assert.Equal(t, Entry{Keycode: KeyKPEnter}, At(0xDA))
	assert.Equal(t, Entry{Modifier: ModRightCtrl}, At(0x94))
	assert.Equal(t, Entry{Consumer: ConsumerMute}, At(0xA3))
}

func TestSyntheticPositions(t *testing.T) {
	assert.Equal(t, Entry{Keycode: KeyF7}, At(ps2.PosF7))
	assert.Equal(t, Entry{Keycode: KeyPrintScreen}, At(ps2.PosPrintScreen))
	assert.Equal(t, Entry{Keycode: KeyPause}, At(ps2.PosPause))
}

func TestUnboundIsZero(t *testing.T) {
	assert.Equal(t, Entry{}, At(0x00))
	assert.Equal(t, Entry{}, At(0xFF))
}

func TestExactlyOneActionPerEntry(t *testing.T) {
	for pos, e := range table {
		set := 0
		if e.Keycode != 0 {
			set++
		}
		if e.Modifier != 0 {
			set++
		}
		if e.Consumer != 0 {
			set++
		}
		assert.Equalf(t, 1, set, "position %02X", pos)
	}
}
