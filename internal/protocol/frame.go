package protocol

import (
	"encoding/binary"

	"github.com/bigbag/esploader/internal/slip"
)

// Reply frame layout after unescaping:
//
//	0:    END delimiter
//	1:    direction (0x01)
//	2:    command
//	3-4:  payload length (little-endian)
//	5-8:  value word
//	9..:  payload
//	last: END delimiter
//
// so a complete frame holds length+10 bytes.
const replyOverhead = 10

// EncodeCommand assembles a request frame ready to write to the wire.
// The checksum word and the payload are SLIP-escaped; the header bytes
// before them are emitted raw, as the ROM expects.
func EncodeCommand(cmd byte, data []byte, checksum uint32) []byte {
	frame := make([]byte, 0, len(data)+16)
	frame = append(frame, slip.End, DirRequest, cmd)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(data)))

	var chk [4]byte
	binary.LittleEndian.PutUint32(chk[:], checksum)
	frame = append(frame, slip.Escape(chk[:])...)
	frame = append(frame, slip.Escape(data)...)
	frame = append(frame, slip.End)

	return frame
}

// Deframer accumulates unescaped reply bytes for one expected command.
// Bytes that cannot begin a valid reply are shifted off the front, so
// line noise and stale data degrade to a timeout rather than a parse
// error. The zero value is not usable; call NewDeframer.
type Deframer struct {
	cmd     byte
	reply   []byte
	decoder slip.Decoder
}

// NewDeframer returns a Deframer matching replies to cmd.
func NewDeframer(cmd byte) *Deframer {
	return &Deframer{cmd: cmd, reply: make([]byte, 0, 64)}
}

// Feed consumes one raw wire byte and reports whether a complete,
// well-formed reply frame is now buffered.
func (d *Deframer) Feed(b byte) bool {
	d.reply = d.decoder.Feed(d.reply, b)
	return d.sift()
}

// sift enforces the reply prefix invariants, dropping the first byte
// whenever one fails, and checks for completion.
func (d *Deframer) sift() bool {
	for {
		if len(d.reply) > 0 && d.reply[0] != slip.End {
			d.reply = d.reply[1:]
			continue
		}
		if len(d.reply) > 1 && d.reply[1] != DirResponse {
			d.reply = d.reply[1:]
			continue
		}
		if len(d.reply) > 2 && d.reply[2] != d.cmd {
			d.reply = d.reply[1:]
			continue
		}
		break
	}

	if len(d.reply) < 5 {
		return false
	}
	length := int(d.reply[3]) | int(d.reply[4])<<8
	return len(d.reply) == length+replyOverhead
}

// Frame splits a complete reply into its value word and payload.
// Only valid once Feed has returned true.
func (d *Deframer) Frame() (value uint32, data []byte) {
	value = binary.LittleEndian.Uint32(d.reply[5:9])
	data = d.reply[9 : len(d.reply)-1]
	return value, data
}

// Bytes returns the buffered reply for debug dumps.
func (d *Deframer) Bytes() []byte {
	return d.reply
}
