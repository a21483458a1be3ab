package blesvc

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/sdep"
)

// atCommand sends an AT command without waiting for its reply. The
// dispatch time is pushed onto the response ring so the reply can be
// matched up (or abandoned) later; when the ring is full the oldest
// in-flight command is retired first.
func (t *Transport) atCommand(cmd string, timeout time.Duration) bool {
	t.log.Debug("ble send", zap.String("cmd", cmd))

	if !t.sendFragments(cmd, timeout) {
		return false
	}

	now := timerRead(t.clock)
	for !t.respBuf.Enqueue(now) {
		t.respBufReadOne(false)
		if !t.framer.IRQ() {
			// nothing to drain yet; let the head age towards its timeout
			t.clock.Sleep(time.Millisecond)
		}
	}
	if waited := timerElapsed(t.clock, now); waited > 0 {
		t.log.Debug("waited for response ring", zap.Uint16("ms", waited))
	}
	return true
}

// atQuery sends an AT command and reads back its textual output. All
// in-flight responses are drained first so the reply read here belongs
// unambiguously to cmd.
func (t *Transport) atQuery(cmd string, timeout time.Duration) (string, bool) {
	t.log.Debug("ble send", zap.String("cmd", cmd))

	t.respBufWait(cmd)
	if !t.sendFragments(cmd, timeout) {
		return "", false
	}
	return t.readResponse()
}

// sendFragments splits the ASCII command into ATWrapper packets of up to
// MaxPayload bytes. Every fragment but the last carries the more flag; a
// command that is an exact multiple of the payload size ends on a
// full-size tail with more clear rather than an empty fragment.
func (t *Transport) sendFragments(cmd string, timeout time.Duration) bool {
	payload := []uint8(cmd)
	for len(payload) > sdep.MaxPayload {
		frm := sdep.Build(sdep.CmdATWrapper, payload[:sdep.MaxPayload], true)
		if err := t.framer.Send(&frm, timeout); err != nil {
			return false
		}
		payload = payload[sdep.MaxPayload:]
	}
	frm := sdep.Build(sdep.CmdATWrapper, payload, false)
	return t.framer.Send(&frm, timeout) == nil
}

// readResponse reassembles Response frames until one arrives with the
// more flag clear, then checks the trailing OK/ERROR line. On success it
// returns the output preceding the OK line and true; otherwise it returns
// the whole response text and false.
func (t *Transport) readResponse() (string, bool) {
	var buf []uint8
	for {
		var frm sdep.Frame
		if err := t.framer.Recv(&frm, 2*sdep.Timeout); err != nil {
			t.log.Debug("sdep recv failed", zap.Error(err))
			return "", false
		}
		if frm.Type != sdep.TypeResponse {
			return "", false
		}
		if room := maxResponse - len(buf); room > 0 {
			n := int(frm.Len)
			if n > room {
				n = room
			}
			buf = append(buf, frm.Payload[:n]...)
		}
		if !frm.More {
			break
		}
	}

	text := strings.TrimRight(string(buf), "\r\n")
	body := ""
	last := text
	if idx := strings.LastIndexByte(text, '\n'); idx >= 0 {
		last = text[idx+1:]
		body = strings.TrimRight(text[:idx], "\r\n")
	}
	if last != "OK" {
		t.log.Debug("at command failed", zap.String("result", text))
		return text, false
	}
	return body, true
}
