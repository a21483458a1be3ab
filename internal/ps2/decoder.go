package ps2

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Source delivers one scan code byte per poll. Recv returns 0 when no
// valid byte was captured; Error distinguishes that case (framing/parity
// failure or an empty buffer) from a genuine 0x00 overrun byte. The
// decoder drops the poll entirely while Error is set. Requesting a
// resend on error is deliberately not done.
type Source interface {
	Recv() uint8
	Error() bool
}

// ScriptSource replays a fixed byte sequence, one byte per poll. Once
// drained it reports the no-data condition through Error.
type ScriptSource struct {
	bytes []uint8
	pos   int
	err   bool
}

func NewScriptSource(bytes []uint8) *ScriptSource {
	return &ScriptSource{bytes: bytes}
}

func (s *ScriptSource) Recv() uint8 {
	if s.pos >= len(s.bytes) {
		s.err = true
		return 0
	}
	s.err = false
	b := s.bytes[s.pos]
	s.pos++
	return b
}

func (s *ScriptSource) Error() bool { return s.err }

func (s *ScriptSource) Drained() bool { return s.pos >= len(s.bytes) }

/*
 * Scan Code Set 2 exceptional sequences:
 *
 * 1) Insert, Delete, Home, End, PageUp, PageDown, arrows, Keypad /:
 *    the keyboard wraps these in E0 12 / E0 59 shift-synthesis codes
 *    depending on modifier and Num Lock state. The prefix/postfix codes
 *    are dropped.
 *
 * 2) PrintScreen: 'E0 7C' and the Alt'd form '84' both land on the
 *    PosPrintScreen position; the synthesis codes around them are dropped.
 *
 * 3) Pause has a make sequence but no break code:
 *        E1 14 77 E1 F0 14 F0 77    (plain)
 *        E0 7E E0 F0 7E             (Control'd)
 *    Each sequence is consumed as a whole and a pseudo break is issued
 *    at the start of the following scan.
 */
type decoderState uint8

const (
	stateInit decoderState = iota
	stateF0
	stateE0
	stateE0F0
	// Pause
	stateE1
	stateE1x14
	stateE1x14x77
	stateE1x14x77xE1
	stateE1x14x77xE1xF0
	stateE1x14x77xE1xF0x14
	stateE1x14x77xE1xF0x14xF0
	// Control'd Pause
	stateE0x7E
	stateE0x7ExE0
	stateE0x7ExE0xF0
)

const (
	codeOverrun      = 0x00
	codeShiftLeft    = 0x12
	codeShiftRight   = 0x59
	codeSelfTestPass = 0xAA
	codeSelfTestFail = 0xFC
	codeAltPrintScr  = 0x84
)

// Decoder collapses the Set 2 byte stream into matrix make/break
// transitions. It consumes at most one byte per Scan call.
type Decoder struct {
	log    *zap.Logger
	src    Source
	matrix *Matrix
	state  decoderState

	// onClear is invoked whenever the matrix is force-cleared (overrun or
	// desync) so the upstream report layer can release any held keys.
	onClear func()
	// onSelfTest is invoked on BAT completion (0xAA/0xFC) so LED state
	// can be refreshed after a keyboard reset.
	onSelfTest func()

	desyncs atomic.Uint32
}

type DecoderOption func(*Decoder)

func WithClearHook(fn func()) DecoderOption {
	return func(d *Decoder) { d.onClear = fn }
}

func WithSelfTestHook(fn func()) DecoderOption {
	return func(d *Decoder) { d.onSelfTest = fn }
}

func NewDecoder(log *zap.Logger, src Source, matrix *Matrix, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		log:    log,
		src:    src,
		matrix: matrix,
		state:  stateInit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Desyncs returns how many lost-sync events have been observed.
func (d *Decoder) Desyncs() uint32 {
	return d.desyncs.Load()
}

// Scan performs one poll: reads at most one byte from the source and
// advances the state machine. The matrix modified flag is reset first, so
// after Scan returns it reflects exactly this poll's transitions.
func (d *Decoder) Scan() {
	d.matrix.ResetModified()

	// Pause has no break code; release it one scan after the make.
	if d.matrix.IsOn(row(PosPause), col(PosPause)) {
		d.matrix.Break(PosPause)
	}

	code := d.src.Recv()
	if d.src.Error() {
		return
	}
	if code != 0 {
		d.log.Debug("scan code", zap.Uint8("code", code))
	}
	d.feed(code)
}

// clear drops all tracked key state after the stream lost sync.
func (d *Decoder) clear() {
	d.matrix.Clear()
	if d.onClear != nil {
		d.onClear()
	}
}

func (d *Decoder) desync(code uint8) {
	d.desyncs.Inc()
	d.clear()
	d.log.Warn("unexpected scan code, clearing matrix",
		zap.Uint8("code", code), zap.Uint8("state", uint8(d.state)))
}

func (d *Decoder) feed(code uint8) {
	switch d.state {
	case stateInit:
		switch code {
		case 0xE0:
			d.state = stateE0
		case 0xF0:
			d.state = stateF0
		case 0xE1:
			d.state = stateE1
		case PosF7:
			d.matrix.Make(PosF7)
			d.state = stateInit
		case codeAltPrintScr:
			d.matrix.Make(PosPrintScreen)
			d.state = stateInit
		case codeOverrun:
			d.clear()
			d.log.Warn("scan buffer overrun, clearing matrix")
			d.state = stateInit
		case codeSelfTestPass, codeSelfTestFail:
			if d.onSelfTest != nil {
				d.onSelfTest()
			}
			d.state = stateInit
		default:
			if code < 0x80 {
				d.matrix.Make(code)
			} else {
				d.desync(code)
			}
			d.state = stateInit
		}
	case stateE0:
		switch code {
		case codeShiftLeft, codeShiftRight:
			// shift-synthesis prefix, dropped
			d.state = stateInit
		case 0x7E:
			d.state = stateE0x7E
		case 0xF0:
			d.state = stateE0F0
		default:
			if code < 0x80 {
				d.matrix.Make(code | 0x80)
			} else {
				d.desync(code)
			}
			d.state = stateInit
		}
	case stateF0:
		switch code {
		case PosF7:
			d.matrix.Break(PosF7)
			d.state = stateInit
		case codeAltPrintScr:
			d.matrix.Break(PosPrintScreen)
			d.state = stateInit
		case 0xF0:
			// F0 F0 never appears in a valid stream; clear and continue
			// consuming from the second F0
			d.desyncs.Inc()
			d.clear()
			d.log.Warn("unexpected F0 F0, clearing matrix")
		default:
			if code < 0x80 {
				d.matrix.Break(code)
			} else {
				d.desync(code)
			}
			d.state = stateInit
		}
	case stateE0F0:
		switch code {
		case codeShiftLeft, codeShiftRight:
			// shift-synthesis postfix, dropped
			d.state = stateInit
		default:
			if code < 0x80 {
				d.matrix.Break(code | 0x80)
			} else {
				d.desync(code)
			}
			d.state = stateInit
		}
	// Pause
	case stateE1:
		d.expect(code, 0x14, stateE1x14)
	case stateE1x14:
		d.expect(code, 0x77, stateE1x14x77)
	case stateE1x14x77:
		d.expect(code, 0xE1, stateE1x14x77xE1)
	case stateE1x14x77xE1:
		d.expect(code, 0xF0, stateE1x14x77xE1xF0)
	case stateE1x14x77xE1xF0:
		d.expect(code, 0x14, stateE1x14x77xE1xF0x14)
	case stateE1x14x77xE1xF0x14:
		d.expect(code, 0xF0, stateE1x14x77xE1xF0x14xF0)
	case stateE1x14x77xE1xF0x14xF0:
		if code == 0x77 {
			d.matrix.Make(PosPause)
		}
		d.state = stateInit
	// Control'd Pause
	case stateE0x7E:
		d.expect(code, 0xE0, stateE0x7ExE0)
	case stateE0x7ExE0:
		d.expect(code, 0xF0, stateE0x7ExE0xF0)
	case stateE0x7ExE0xF0:
		if code == 0x7E {
			d.matrix.Make(PosPause)
		}
		d.state = stateInit
	default:
		d.state = stateInit
	}
}

// expect advances to next when code matches; any mismatch inside the
// Pause sequences silently resets, the garbage is harmless.
func (d *Decoder) expect(code, want uint8, next decoderState) {
	if code == want {
		d.state = next
	} else {
		d.state = stateInit
	}
}
