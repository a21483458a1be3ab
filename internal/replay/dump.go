// Package replay feeds recorded scan code dumps through the decoder,
// either printing the resulting matrix transitions or rendering the
// matrix live in a terminal. Useful for reproducing decoder issues from
// a captured byte trace without the keyboard attached.
package replay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// LoadDump reads a scan code trace: whitespace-separated hex bytes,
// optionally 0x-prefixed, with #-comments.
//
//	# NumLock'd Up arrow press and release
//	E0 12 E0 75
//	E0 F0 75 E0 F0 12
func LoadDump(fs afero.Fs, path string) ([]uint8, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump %s: %w", path, err)
	}
	return ParseDump(string(data))
}

func ParseDump(text string) ([]uint8, error) {
	var bytes []uint8
	for lineNo, line := range strings.Split(text, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		for _, tok := range strings.Fields(line) {
			v, err := strconv.ParseUint(strings.TrimPrefix(tok, "0x"), 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad scan code %q on line %d", tok, lineNo+1)
			}
			bytes = append(bytes, uint8(v))
		}
	}
	return bytes, nil
}
