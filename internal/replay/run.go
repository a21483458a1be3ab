package replay

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/ps2"
)

// Event is one observed matrix transition.
type Event struct {
	Pos  uint8
	Down bool
}

func (e Event) String() string {
	if e.Down {
		return fmt.Sprintf("make  %02X", e.Pos)
	}
	return fmt.Sprintf("break %02X", e.Pos)
}

// Run feeds the trace through a fresh decoder and returns every matrix
// transition in order, including the Pause pseudo break.
func Run(log *zap.Logger, trace []uint8) ([]Event, *ps2.Matrix) {
	var matrix ps2.Matrix
	src := ps2.NewScriptSource(trace)
	dec := ps2.NewDecoder(log, src, &matrix)

	var events []Event
	prev := matrix
	for i := 0; i <= len(trace); i++ {
		dec.Scan()
		for pos := 0; pos < 256; pos++ {
			p := uint8(pos)
			was := prev.IsOn(p>>3, p&7)
			now := matrix.IsOn(p>>3, p&7)
			if was != now {
				events = append(events, Event{Pos: p, Down: now})
			}
		}
		prev = matrix
	}
	return events, &matrix
}

// Print writes the transition list and the final matrix to w.
func Print(w io.Writer, events []Event, matrix *ps2.Matrix) {
	for _, ev := range events {
		fmt.Fprintln(w, ev)
	}
	fmt.Fprintf(w, "%d key(s) down\n", matrix.KeyCount())
	if matrix.KeyCount() > 0 {
		fmt.Fprint(w, matrix)
	}
}
