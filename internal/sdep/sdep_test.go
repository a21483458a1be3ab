package sdep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMarshalRoundTrip(t *testing.T) {
	payloads := [][]uint8{
		nil,
		{0x41},
		[]uint8("AT+BLEHIDEN=1"),
		[]uint8("0123456789abcdef"), // full payload
	}
	for _, payload := range payloads {
		frm := Build(CmdATWrapper, payload, false)
		require.LessOrEqual(t, frm.Len, uint8(MaxPayload))
		wire := frm.Marshal()
		require.Len(t, wire, headerSize+len(payload))

		got, ok := Unmarshal(wire)
		require.True(t, ok)
		assert.Equal(t, frm, got)
	}
}

func TestBuildMoreRequiresFullPayload(t *testing.T) {
	frm := Build(CmdATWrapper, []uint8("short"), true)
	assert.False(t, frm.More, "short fragment is always final")

	frm = Build(CmdATWrapper, []uint8("0123456789abcdef"), true)
	assert.True(t, frm.More)
	wire := frm.Marshal()
	assert.Equal(t, uint8(16|0x80), wire[3])
}

func TestHeaderLayout(t *testing.T) {
	frm := Build(CmdATWrapper, []uint8{0xAB}, false)
	wire := frm.Marshal()
	assert.Equal(t, uint8(TypeCommand), wire[0])
	assert.Equal(t, uint8(0x00), wire[1], "command low byte")
	assert.Equal(t, uint8(0x0A), wire[2], "command high byte")
	assert.Equal(t, uint8(1), wire[3])
	assert.Equal(t, uint8(0xAB), wire[4])
}

func TestUnmarshalRejectsOversizedLen(t *testing.T) {
	_, ok := Unmarshal([]uint8{TypeResponse, 0x00, 0x0A, 0x7F})
	assert.False(t, ok)
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	_, ok := Unmarshal([]uint8{TypeResponse, 0x00})
	assert.False(t, ok)
	_, ok = Unmarshal([]uint8{TypeResponse, 0x00, 0x0A, 0x02, 0x41})
	assert.False(t, ok)
}
