package radio

import "fmt"

// SLIP framing for the serial link to the UWB module.
const (
	slipEnd    = 0xc0
	slipEsc    = 0xdb
	slipEscEnd = 0xdc
	slipEscEsc = 0xdd
)

// slipEncode wraps a message in SLIP framing, escaping END and ESC bytes.
func slipEncode(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+2)
	out = append(out, slipEnd)
	for _, b := range msg {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, slipEnd)
}

// slipDecoder accumulates bytes from the serial stream and yields complete
// unescaped messages.
type slipDecoder struct {
	buf     []byte
	escaped bool
}

// feed consumes a chunk of stream bytes and returns any complete messages.
// Empty frames (back-to-back END bytes) are skipped.
func (d *slipDecoder) feed(chunk []byte) ([][]byte, error) {
	var msgs [][]byte
	for _, b := range chunk {
		if d.escaped {
			d.escaped = false
			switch b {
			case slipEscEnd:
				d.buf = append(d.buf, slipEnd)
			case slipEscEsc:
				d.buf = append(d.buf, slipEsc)
			default:
				d.buf = d.buf[:0]
				return msgs, fmt.Errorf("invalid SLIP escape 0x%02x", b)
			}
			continue
		}

		switch b {
		case slipEsc:
			d.escaped = true
		case slipEnd:
			if len(d.buf) > 0 {
				msg := make([]byte, len(d.buf))
				copy(msg, d.buf)
				msgs = append(msgs, msg)
				d.buf = d.buf[:0]
			}
		default:
			d.buf = append(d.buf, b)
		}
	}
	return msgs, nil
}
