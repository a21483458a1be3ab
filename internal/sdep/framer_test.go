package sdep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeClock advances only when something sleeps.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time        { return c.t }
func (c *fakeClock) Sleep(d time.Duration) { c.t = c.t.Add(d) }

type fakePin struct {
	level bool
}

func (p *fakePin) High()     { p.level = true }
func (p *fakePin) Low()      { p.level = false }
func (p *fakePin) Get() bool { return p.level }

// sendSPI models the slave side of a frame write: it NAKs the first
// notReady probes and records every byte clocked out after that.
type sendSPI struct {
	notReady int
	written  []uint8
}

func (s *sendSPI) Transfer(b uint8) (uint8, error) {
	if s.notReady > 0 {
		s.notReady--
		return TypeSlaveNotReady, nil
	}
	s.written = append(s.written, b)
	return 0x00, nil
}

func (s *sendSPI) Tx(w, r []uint8) error {
	s.written = append(s.written, w...)
	return nil
}

// recvSPI streams a canned byte sequence to the master.
type recvSPI struct {
	data []uint8
}

func (s *recvSPI) next() uint8 {
	if len(s.data) == 0 {
		return 0x00
	}
	b := s.data[0]
	s.data = s.data[1:]
	return b
}

func (s *recvSPI) Transfer(b uint8) (uint8, error) {
	return s.next(), nil
}

func (s *recvSPI) Tx(w, r []uint8) error {
	for i := range r {
		r[i] = s.next()
	}
	return nil
}

func newTestFramer(spi interface {
	Transfer(uint8) (uint8, error)
	Tx(w, r []uint8) error
}, irq *fakePin, t *testing.T) (*Framer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	return NewFramer(zaptest.NewLogger(t), spi, &fakePin{}, irq, clock), clock
}

func TestSendWithBackOff(t *testing.T) {
	spi := &sendSPI{notReady: 3}
	f, _ := newTestFramer(spi, &fakePin{}, t)

	frm := Build(CmdATWrapper, []uint8("ATZ"), false)
	require.NoError(t, f.Send(&frm, Timeout))
	assert.Equal(t, frm.Marshal(), spi.written)
}

func TestSendGivesUp(t *testing.T) {
	spi := &sendSPI{notReady: 1 << 30}
	f, clock := newTestFramer(spi, &fakePin{}, t)

	start := clock.Now()
	frm := Build(CmdATWrapper, nil, false)
	err := f.Send(&frm, Timeout)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, spi.written)
	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, Timeout)
}

func TestRecvFrame(t *testing.T) {
	want := Frame{Type: TypeResponse, Command: CmdATWrapper, Len: 4}
	copy(want.Payload[:], "OK\r\n")
	irq := &fakePin{level: true}
	f, _ := newTestFramer(&recvSPI{data: want.Marshal()}, irq, t)

	var got Frame
	require.NoError(t, f.Recv(&got, Timeout))
	assert.Equal(t, want, got)
}

func TestRecvRetriesNotReady(t *testing.T) {
	want := Frame{Type: TypeResponse, Command: CmdATWrapper, Len: 2}
	copy(want.Payload[:], "OK")
	data := append([]uint8{TypeSlaveNotReady, TypeSlaveOverflow}, want.Marshal()...)
	irq := &fakePin{level: true}
	f, _ := newTestFramer(&recvSPI{data: data}, irq, t)

	var got Frame
	require.NoError(t, f.Recv(&got, Timeout))
	assert.Equal(t, want, got)
}

func TestRecvTimesOutWithoutIRQ(t *testing.T) {
	f, clock := newTestFramer(&recvSPI{}, &fakePin{}, t)
	start := clock.Now()
	var got Frame
	err := f.Recv(&got, ShortTimeout)
	assert.ErrorIs(t, err, ErrNoIRQ)
	assert.GreaterOrEqual(t, clock.Now().Sub(start), ShortTimeout)
}

func TestRecvRejectsOversizedLen(t *testing.T) {
	irq := &fakePin{level: true}
	f, _ := newTestFramer(&recvSPI{data: []uint8{TypeResponse, 0x00, 0x0A, 0x7F}}, irq, t)
	var got Frame
	assert.ErrorIs(t, f.Recv(&got, Timeout), ErrBadFrame)
}
