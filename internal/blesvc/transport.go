// Package blesvc drives the BLE coprocessor: it queues HID reports from
// the scan side, expands them to AT commands wrapped in SDEP frames, and
// pumps them out. Every wait is deadline-bounded; the first pump step also
// resets and configures the coprocessor, which holds the caller for more
// than a second.
package blesvc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/sdep"
	"github.com/hidbridge/hidbridge/pkg/bus"
	"github.com/hidbridge/hidbridge/pkg/ringbuf"
)

const (
	sendQueueDepth = 40
	// At most two commands may be outstanding at the coprocessor; the
	// ring stores the dispatch time of each so a lost reply can be
	// abandoned by age.
	respQueueDepth = 2

	maxResponse = 128
)

// event probing state
const (
	probedEvents = 1 << 0
	usingEvents  = 1 << 1
)

// AT+EVENTSTATUS system bits
const (
	eventConnected    = 1 << 0
	eventDisconnected = 1 << 1
)

// StatusKind keys the transport status bus.
type StatusKind uint8

const (
	StatusConnection StatusKind = iota
	StatusBattery
)

type StatusEvent struct {
	Connected bool
	VBat      uint32
}

type (
	StatusBus       = bus.Bus[StatusKind, StatusEvent]
	StatusPublisher = bus.Publisher[StatusEvent]
)

// Config holds the coprocessor configuration applied by the init script
// and the pump's polling cadence.
type Config struct {
	DeviceName  string
	Description string
	PowerLevel  int

	ConnectionUpdateInterval time.Duration
	BatteryUpdateInterval    time.Duration
	SampleBattery            bool
}

func DefaultConfig() Config {
	return Config{
		DeviceName:  "hidbridge",
		Description: "PS/2 keyboard",
		PowerLevel:  -12,
		// AT+GAPGETCONN is polled every second, AT+HWVBAT every ten.
		ConnectionUpdateInterval: time.Second,
		BatteryUpdateInterval:    10 * time.Second,
		SampleBattery:            true,
	}
}

// Stats are updated by the pump and readable from any goroutine.
type Stats struct {
	SentReports       atomic.Uint32
	FailedSends       atomic.Uint32
	AbandonedCommands atomic.Uint32
}

// Transport owns the send/response ring pair and all coprocessor state.
// It is driven cooperatively: Task performs one pump step per call and
// every internal wait is deadline-bounded.
type Transport struct {
	log    *zap.Logger
	cfg    Config
	framer *sdep.Framer
	reset  sdep.Pin
	clock  sdep.Clock
	events *StatusBus

	sendBuf *ringbuf.Ring[queueItem]
	respBuf *ringbuf.Ring[uint16]

	initialized bool
	configured  bool
	connected   bool
	eventFlags  uint8

	lastConnectionUpdate uint16
	lastBatteryUpdate    uint16
	vbat                 uint32

	stats Stats
}

type Option func(*Transport)

// WithStatusBus publishes connection and battery transitions.
func WithStatusBus(b *StatusBus) Option {
	return func(t *Transport) { t.events = b }
}

func WithClock(c sdep.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

func New(log *zap.Logger, framer *sdep.Framer, reset sdep.Pin, cfg Config, opts ...Option) *Transport {
	t := &Transport{
		log:     log,
		cfg:     cfg,
		framer:  framer,
		reset:   reset,
		clock:   sdep.WallClock{},
		sendBuf: ringbuf.New[queueItem](sendQueueDepth),
		respBuf: ringbuf.New[uint16](respQueueDepth),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) IsConnected() bool { return t.connected }
func (t *Transport) Configured() bool  { return t.configured }

// BatteryVoltage returns the last sampled reading in millivolts, raw as
// reported. The coprocessor seems to always say ~3200mV; unresolved
// whether that is its firmware or the measurement.
func (t *Transport) BatteryVoltage() uint32 { return t.vbat }

func (t *Transport) Stats() *Stats { return &t.stats }

// hardwareReset pulses the reset line and gives the coprocessor a second
// to boot. There is no success probe.
func (t *Transport) hardwareReset() {
	t.log.Info("resetting BLE coprocessor")
	t.reset.High()
	t.reset.Low()
	t.clock.Sleep(10 * time.Millisecond)
	t.reset.High()
	t.clock.Sleep(time.Second)
	t.initialized = true
}

// EnableKeyboard runs the one-time configuration script. Any command
// failing aborts; the next Task call retries the whole script.
func (t *Transport) EnableKeyboard() bool {
	if !t.initialized {
		t.hardwareReset()
	}
	t.configured = false

	script := []string{
		// disable command echo
		"ATE=0",
		// constrain central polling to 10-30ms for typing latency
		"AT+GAPINTERVALS=10,30,,",
		// advertise under the product name
		fmt.Sprintf("AT+GAPDEVNAME=%s %s", t.cfg.DeviceName, t.cfg.Description),
		"AT+BLEHIDEN=1",
		fmt.Sprintf("AT+BLEPOWERLEVEL=%d", t.cfg.PowerLevel),
		// reset so the settings take effect
		"ATZ",
	}
	for _, cmd := range script {
		if resp, ok := t.atQuery(cmd, sdep.Timeout); !ok {
			t.log.Warn("BLE configuration command failed",
				zap.String("cmd", cmd), zap.String("resp", resp))
			return false
		}
	}
	t.configured = true
	// check the connection in a little while, once the ATZ has kicked in
	t.lastConnectionUpdate = timerRead(t.clock)
	return true
}

// SendKeys queues a keyboard report. More than six keys are split across
// successive reports. When the queue is full the pump is run inline
// until space frees up.
func (t *Transport) SendKeys(modifier uint8, keys []uint8) {
	item := queueItem{kind: itemKeyReport, added: timerRead(t.clock)}
	item.key.Modifier = modifier
	for {
		var chunk [6]uint8
		n := copy(chunk[:], keys)
		item.key.Keys = chunk
		t.enqueue(item)
		if len(keys) <= 6 {
			return
		}
		keys = keys[n:]
	}
}

// SendConsumer queues a consumer-control (media key) report.
func (t *Transport) SendConsumer(code uint16) {
	t.enqueue(queueItem{kind: itemConsumer, added: timerRead(t.clock), consumer: code})
}

// SendMouse queues a pointer report.
func (t *Transport) SendMouse(move MouseMove) {
	t.enqueue(queueItem{kind: itemMouseMove, added: timerRead(t.clock), mouse: move})
}

func (t *Transport) enqueue(item queueItem) {
	waited := false
	for !t.sendBuf.Enqueue(item) {
		if !waited {
			t.log.Debug("waiting for send queue space")
			waited = true
		}
		t.respBufReadOne(true)
		t.sendBufSendOne(sdep.Timeout)
		if !t.respBuf.Empty() && !t.framer.IRQ() {
			t.clock.Sleep(time.Millisecond)
		}
	}
}

// Task performs one pump step. ctx is only used for status publication.
func (t *Transport) Task(ctx context.Context) {
	if !t.configured && !t.EnableKeyboard() {
		return
	}

	t.respBufReadOne(true)
	t.sendBufSendOne(sdep.ShortTimeout)

	if t.respBuf.Empty() && t.eventFlags&usingEvents != 0 && t.framer.IRQ() {
		// must be an event update
		if resp, ok := t.atQuery("AT+EVENTSTATUS", sdep.Timeout); ok {
			mask := parseHex(resp)
			if mask&eventConnected != 0 {
				t.setConnected(ctx, true)
			} else if mask&eventDisconnected != 0 {
				t.setConnected(ctx, false)
			}
		}
	}

	if timerElapsed(t.clock, t.lastConnectionUpdate) > millis(t.cfg.ConnectionUpdateInterval) {
		if t.eventFlags&probedEvents == 0 {
			// Ask for connection notifications; only newer coprocessor
			// firmware supports this, so probe once and fall back to
			// polling when it fails.
			if _, ok := t.atQuery("AT+EVENTENABLE=0x1", sdep.Timeout); ok {
				t.atQuery("AT+EVENTENABLE=0x2", sdep.Timeout)
				t.eventFlags |= usingEvents
			}
			t.eventFlags |= probedEvents
		}
		t.lastConnectionUpdate = timerRead(t.clock)
		if resp, ok := t.atQuery("AT+GAPGETCONN", sdep.Timeout); ok {
			n, _ := strconv.Atoi(strings.TrimSpace(resp))
			t.setConnected(ctx, n != 0)
		}
	}

	if t.cfg.SampleBattery && t.respBuf.Empty() &&
		timerElapsed(t.clock, t.lastBatteryUpdate) > millis(t.cfg.BatteryUpdateInterval) {
		t.lastBatteryUpdate = timerRead(t.clock)
		if resp, ok := t.atQuery("AT+HWVBAT", sdep.Timeout); ok {
			n, _ := strconv.Atoi(strings.TrimSpace(resp))
			t.vbat = uint32(n)
			t.publish(ctx, StatusBattery, StatusEvent{Connected: t.connected, VBat: t.vbat})
		}
	}
}

// SetModeLEDs drives the coprocessor's red mode LED and the blue
// connected LED on pin 19. The blue LED is only lit when actually
// connected, anything else reads as misleading.
func (t *Transport) SetModeLEDs(on bool) bool {
	if !t.configured {
		return false
	}
	if on {
		t.atCommand("AT+HWMODELED=1", sdep.Timeout)
	} else {
		t.atCommand("AT+HWMODELED=0", sdep.Timeout)
	}
	if on && t.connected {
		t.atCommand("AT+HWGPIO=19,1", sdep.Timeout)
	} else {
		t.atCommand("AT+HWGPIO=19,0", sdep.Timeout)
	}
	return true
}

// SetPowerLevel adjusts the transmit power in dBm.
// https://learn.adafruit.com/adafruit-feather-32u4-bluefruit-le/ble-generic#at-plus-blepowerlevel
func (t *Transport) SetPowerLevel(level int) bool {
	if !t.configured {
		return false
	}
	return t.atCommand(fmt.Sprintf("AT+BLEPOWERLEVEL=%d", level), sdep.Timeout)
}

func (t *Transport) setConnected(ctx context.Context, connected bool) {
	if connected == t.connected {
		return
	}
	t.connected = connected
	if connected {
		t.log.Info("BLE connected")
	} else {
		t.log.Info("BLE disconnected")
	}
	t.publish(ctx, StatusConnection, StatusEvent{Connected: connected, VBat: t.vbat})
}

func (t *Transport) publish(ctx context.Context, kind StatusKind, ev StatusEvent) {
	if t.events != nil {
		t.events.Publish(ctx, kind, ev)
	}
}

// respBufReadOne retires at most one outstanding command: by reading its
// final response frame when the IRQ line is up, or by abandoning it once
// it is older than twice the SDEP timeout. With greedy set it keeps
// going while responses are ready.
func (t *Transport) respBufReadOne(greedy bool) {
	for {
		lastSend, ok := t.respBuf.Peek()
		if !ok {
			return
		}
		if t.framer.IRQ() {
			var frm sdep.Frame
			if err := t.framer.Recv(&frm, sdep.Timeout); err != nil {
				return
			}
			if !frm.More {
				// command completed
				t.respBuf.Pop()
				t.log.Debug("recv latency", zap.Uint16("ms", timerElapsed(t.clock, lastSend)))
			}
			if greedy && !t.respBuf.Empty() && t.framer.IRQ() {
				continue
			}
			return
		}
		if timerElapsed(t.clock, lastSend) > 2*millis(sdep.Timeout) {
			// abandoned; reports queued behind it are preserved
			t.log.Debug("response timed out",
				zap.Int("outstanding", t.respBuf.Len()))
			t.respBuf.Pop()
			t.stats.AbandonedCommands.Inc()
		}
		return
	}
}

// respBufWait drains every in-flight response so the next read
// unambiguously belongs to the command about to be sent.
func (t *Transport) respBufWait(cmd string) {
	logged := false
	for !t.respBuf.Empty() {
		if !logged {
			t.log.Debug("waiting on responses", zap.String("cmd", cmd))
			logged = true
		}
		t.respBufReadOne(true)
		if !t.respBuf.Empty() && !t.framer.IRQ() {
			t.clock.Sleep(time.Millisecond)
		}
	}
}

// sendBufSendOne forwards the head of the send queue unless a command is
// still outstanding (the coprocessor mishandles pipelined HID reports).
func (t *Transport) sendBufSendOne(timeout time.Duration) {
	if !t.respBuf.Empty() {
		return
	}
	item, ok := t.sendBuf.Peek()
	if !ok {
		return
	}
	if t.processQueueItem(&item, timeout) {
		// commit the peek
		t.sendBuf.Pop()
		t.stats.SentReports.Inc()
		t.log.Debug("sent queued report", zap.Int("remaining", t.sendBuf.Len()))
	} else {
		t.stats.FailedSends.Inc()
		t.log.Debug("failed to send, will retry")
		t.clock.Sleep(sdep.Timeout)
		t.respBufReadOne(true)
	}
}

func (t *Transport) processQueueItem(item *queueItem, timeout time.Duration) bool {
	// arrange to re-check the connection after the keys have settled
	t.lastConnectionUpdate = timerRead(t.clock)

	if lat := timerDiff(t.lastConnectionUpdate, item.added); lat > 0 {
		t.log.Debug("send latency", zap.Uint16("ms", lat))
	}

	switch item.kind {
	case itemKeyReport:
		return t.atCommand(item.keyboardCommand(), timeout)
	case itemConsumer:
		return t.atCommand(item.consumerCommand(), timeout)
	case itemMouseMove:
		// the move and the buttons are separate AT calls; both must land
		if !t.atCommand(item.mouseMoveCommand(), timeout) {
			return false
		}
		return t.atCommand(item.mouseButtonCommand(), timeout)
	default:
		return true
	}
}

func parseHex(s string) uint32 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	v, _ := strconv.ParseUint(s, 16, 32)
	return uint32(v)
}
