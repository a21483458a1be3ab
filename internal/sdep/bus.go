package sdep

import "time"

// Pin is a single digital IO line. Implementations wrap whatever GPIO
// driver the target provides (machine pins on bare metal, gpiochip lines
// on Linux, simulated pins in tests).
type Pin interface {
	High()
	Low()
	Get() bool
}

// Clock abstracts time so the bounded spin loops can be driven by a fake
// in tests. All transport deadlines derive from it.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// WallClock is the real time implementation.
type WallClock struct{}

func (WallClock) Now() time.Time        { return time.Now() }
func (WallClock) Sleep(d time.Duration) { time.Sleep(d) }

// The SDEP.md document says 2 MHz but both the web page and the vendor
// sample driver use 4 MHz; mode 0, MSB first.
const SPIBusSpeed = 4_000_000

// Supported host core clocks and their SPI dividers. The derivation is
// checked at compile time: 16 MHz uses the standard divide-by-4, 8 MHz
// the SPI-2X doubler.
const (
	cpuClockFull = 16_000_000
	cpuClockHalf = 8_000_000
)

var (
	_ = [1]struct{}{}[cpuClockFull/4-SPIBusSpeed]
	_ = [1]struct{}{}[cpuClockHalf/2-SPIBusSpeed]
)
