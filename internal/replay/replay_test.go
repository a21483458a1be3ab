package replay

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hidbridge/hidbridge/internal/ps2"
)

func TestParseDump(t *testing.T) {
	trace, err := ParseDump("# press A\n1C\nF0 1C  # release\n0xE0 0x75\n")
	require.NoError(t, err)
	assert.Equal(t, []uint8{0x1C, 0xF0, 0x1C, 0xE0, 0x75}, trace)
}

func TestParseDumpRejectsGarbage(t *testing.T) {
	_, err := ParseDump("1C\nzz\n")
	assert.Error(t, err)
	_, err = ParseDump("1FF\n")
	assert.Error(t, err)
}

func TestLoadDump(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/trace.txt", []byte("E1 14 77 E1 F0 14 F0 77\n"), 0644))

	trace, err := LoadDump(fs, "/trace.txt")
	require.NoError(t, err)

	events, matrix := Run(zaptest.NewLogger(t), trace)
	require.Equal(t, []Event{
		{Pos: ps2.PosPause, Down: true},
		{Pos: ps2.PosPause, Down: false},
	}, events)
	assert.Equal(t, 0, matrix.KeyCount())
}

func TestRunLeavesHeldKeysDown(t *testing.T) {
	events, matrix := Run(zaptest.NewLogger(t), []uint8{0x12, 0x1C})
	require.Equal(t, []Event{
		{Pos: 0x12, Down: true},
		{Pos: 0x1C, Down: true},
	}, events)
	assert.Equal(t, 2, matrix.KeyCount())
}
