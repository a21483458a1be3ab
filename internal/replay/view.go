package replay

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell"
	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/ps2"
)

// View steps through the trace interactively, rendering the matrix as a
// 32x8 grid. Space advances one scan, 'r' runs to the end, Esc/q quits.
// Decoder logging is muted; it would fight the screen for the terminal.
func View(trace []uint8) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("failed to create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("failed to init screen: %w", err)
	}
	defer screen.Fini()

	var matrix ps2.Matrix
	src := ps2.NewScriptSource(trace)
	dec := ps2.NewDecoder(zap.NewNop(), src, &matrix)

	scans := 0
	draw := func() {
		screen.Clear()
		drawString(screen, 0, 0, fmt.Sprintf("scan %d/%d  keys down: %d  (space: step, r: run, q: quit)",
			scans, len(trace), matrix.KeyCount()), tcell.StyleDefault)
		drawString(screen, 0, 2, "r/c 01234567", tcell.StyleDefault.Bold(true))
		on := tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
		off := tcell.StyleDefault.Foreground(tcell.ColorGray)
		for r := 0; r < ps2.MatrixRows; r++ {
			drawString(screen, 0, 3+r, fmt.Sprintf("%02X:", r), tcell.StyleDefault)
			for c := uint8(0); c < 8; c++ {
				ch, style := '.', off
				if matrix.IsOn(uint8(r), c) {
					ch, style = '#', on
				}
				screen.SetContent(4+int(c), 3+r, ch, nil, style)
			}
		}
		screen.Show()
	}

	step := func() {
		if scans <= len(trace) {
			dec.Scan()
			scans++
		}
	}

	draw()
	for {
		switch ev := screen.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyEscape || ev.Rune() == 'q':
				return nil
			case ev.Rune() == ' ':
				step()
			case ev.Rune() == 'r':
				for !src.Drained() {
					step()
					draw()
					time.Sleep(10 * time.Millisecond)
				}
				step() // pseudo-break pass
			}
			draw()
		case *tcell.EventResize:
			screen.Sync()
			draw()
		}
	}
}

func drawString(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for i, ch := range text {
		s.SetContent(x+i, y, ch, nil, style)
	}
}
