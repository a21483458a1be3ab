package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hidbridge/hidbridge/internal/blesim"
	"github.com/hidbridge/hidbridge/internal/blesvc"
	"github.com/hidbridge/hidbridge/internal/hidreport"
	"github.com/hidbridge/hidbridge/internal/ps2"
	"github.com/hidbridge/hidbridge/internal/sdep"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time        { return c.t }
func (c *fakeClock) Sleep(d time.Duration) { c.t = c.t.Add(d) }

// TestScanToCoprocessor drives a key press and release from raw scan
// codes all the way to AT commands at the simulated coprocessor.
func TestScanToCoprocessor(t *testing.T) {
	log := zaptest.NewLogger(t)
	sim := blesim.New(log.Named("sim"))
	clock := &fakeClock{t: time.Unix(0, 0)}

	framer := sdep.NewFramer(log.Named("sdep"), sim.SPI(), sim.CSPin(), sim.IRQPin(), clock)
	transport := blesvc.New(log.Named("ble"), framer, sim.ResetPin(), blesvc.DefaultConfig(),
		blesvc.WithClock(clock))

	var matrix ps2.Matrix
	builder := hidreport.New(log.Named("report"), &matrix, transport)
	decoder := ps2.NewDecoder(log.Named("ps2"),
		ps2.NewScriptSource([]uint8{0x1C, 0xF0, 0x1C}), &matrix,
		ps2.WithClearHook(builder.Clear))

	b := New(log.Named("bridge"), &matrix, decoder, builder, transport,
		WithClock(clock))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		b.Step(ctx)
	}

	var reports []string
	for _, cmd := range sim.Commands {
		if strings.HasPrefix(cmd, "AT+BLEKEYBOARDCODE=") {
			reports = append(reports, cmd)
		}
	}
	require.Len(t, reports, 2)
	assert.Equal(t, "AT+BLEKEYBOARDCODE=00-00-04-00-00-00-00-00", reports[0], "A pressed")
	assert.Equal(t, "AT+BLEKEYBOARDCODE=00-00-00-00-00-00-00-00", reports[1], "A released")
	assert.True(t, transport.Configured())
	assert.Equal(t, 0, matrix.KeyCount())
}
