package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/bigbag/esploader/internal/slip"
)

func TestEncodeCommand_Layout(t *testing.T) {
	frame := EncodeCommand(CmdReadReg, []byte{0x78, 0x00, 0x00, 0x60}, 0)

	expected := []byte{
		0xC0,       // frame start
		0x00,       // request direction
		CmdReadReg, // opcode
		0x04, 0x00, // payload length
		0x00, 0x00, 0x00, 0x00, // checksum word
		0x78, 0x00, 0x00, 0x60, // payload
		0xC0, // frame end
	}
	if !bytes.Equal(frame, expected) {
		t.Errorf("EncodeCommand = % X, want % X", frame, expected)
	}
}

func TestEncodeCommand_EscapesChecksumAndPayload(t *testing.T) {
	frame := EncodeCommand(CmdFlashData, []byte{0xC0, 0xDB}, 0xC0)

	expected := []byte{
		0xC0, 0x00, CmdFlashData,
		0x02, 0x00, // length counts unescaped payload bytes
		slip.Esc, slip.EscEnd, 0x00, 0x00, 0x00, // escaped checksum word
		slip.Esc, slip.EscEnd, slip.Esc, slip.EscEsc, // escaped payload
		0xC0,
	}
	if !bytes.Equal(frame, expected) {
		t.Errorf("EncodeCommand = % X, want % X", frame, expected)
	}
}

func TestChecksum_Empty(t *testing.T) {
	if c := Checksum(nil); c != ChecksumMagic {
		t.Errorf("Checksum(nil) = 0x%02X, want 0x%02X", c, ChecksumMagic)
	}
}

func TestChecksum_FlashDataExample(t *testing.T) {
	// XOR fold of DE AD BE EF into the 0xEF seed
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if c := Checksum(data); c != 0xCD {
		t.Errorf("Checksum(% X) = 0x%02X, want 0xCD", data, c)
	}
}

func TestChecksum_Fold(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	expected := byte(ChecksumMagic ^ 0x01 ^ 0x02 ^ 0x03)
	if c := Checksum(data); c != expected {
		t.Errorf("Checksum = 0x%02X, want 0x%02X", c, expected)
	}
}

// buildReply assembles a raw reply frame as the ROM would emit it.
func buildReply(cmd byte, value uint32, payload []byte) []byte {
	inner := []byte{DirResponse, cmd}
	inner = binary.LittleEndian.AppendUint16(inner, uint16(len(payload)))
	inner = binary.LittleEndian.AppendUint32(inner, value)
	inner = append(inner, payload...)

	frame := []byte{slip.End}
	frame = append(frame, slip.Escape(inner)...)
	return append(frame, slip.End)
}

func feedAll(d *Deframer, raw []byte) bool {
	complete := false
	for _, b := range raw {
		if d.Feed(b) {
			complete = true
			break
		}
	}
	return complete
}

func TestDeframer_WellFormedReply(t *testing.T) {
	raw := buildReply(CmdReadReg, 0x15122500, []byte{0x00, 0x00})

	d := NewDeframer(CmdReadReg)
	if !feedAll(d, raw) {
		t.Fatalf("well-formed reply not accepted")
	}

	value, data := d.Frame()
	if value != 0x15122500 {
		t.Errorf("value = 0x%08X, want 0x15122500", value)
	}
	if !bytes.Equal(data, []byte{0x00, 0x00}) {
		t.Errorf("data = % X, want 00 00", data)
	}
}

func TestDeframer_RejectsBadStartByte(t *testing.T) {
	raw := buildReply(CmdSync, 0, []byte{0x00, 0x00})
	raw[0] = 0xC1

	if feedAll(NewDeframer(CmdSync), raw) {
		t.Errorf("reply with bad start byte accepted")
	}
}

func TestDeframer_RejectsBadDirection(t *testing.T) {
	raw := buildReply(CmdSync, 0, []byte{0x00, 0x00})
	raw[1] = 0x00

	if feedAll(NewDeframer(CmdSync), raw) {
		t.Errorf("reply with request direction accepted")
	}
}

func TestDeframer_RejectsWrongOpcode(t *testing.T) {
	raw := buildReply(CmdReadReg, 0, []byte{0x00, 0x00})

	if feedAll(NewDeframer(CmdSync), raw) {
		t.Errorf("reply for another opcode accepted")
	}
}

func TestDeframer_SkipsLeadingGarbage(t *testing.T) {
	raw := append([]byte{0x55, 0x0A, 0xFF}, buildReply(CmdSync, 0, []byte{0x00, 0x00})...)

	d := NewDeframer(CmdSync)
	if !feedAll(d, raw) {
		t.Fatalf("reply after garbage not accepted")
	}
	if _, data := d.Frame(); !bytes.Equal(data, []byte{0x00, 0x00}) {
		t.Errorf("data = % X, want 00 00", data)
	}
}

func TestDeframer_UnescapesPayload(t *testing.T) {
	payload := []byte{0xC0, 0xDB, 0x00, 0x00}
	raw := buildReply(CmdSpiFlashMD5, 0, payload)

	d := NewDeframer(CmdSpiFlashMD5)
	if !feedAll(d, raw) {
		t.Fatalf("reply with escaped payload not accepted")
	}
	if _, data := d.Frame(); !bytes.Equal(data, payload) {
		t.Errorf("data = % X, want % X", data, payload)
	}
}

func TestDeframer_IncompleteFrame(t *testing.T) {
	raw := buildReply(CmdSync, 0, []byte{0x00, 0x00})

	d := NewDeframer(CmdSync)
	for _, b := range raw[:len(raw)-2] {
		if d.Feed(b) {
			t.Fatalf("incomplete frame reported complete")
		}
	}
}

func TestDeframer_BackToBackReplies(t *testing.T) {
	// The ROM answers one SYNC with several replies in a row; after a
	// fresh Deframer is pointed at the stream remainder it must pick
	// up the next frame.
	first := buildReply(CmdSync, 0, []byte{0x00, 0x00})
	second := buildReply(CmdSync, 0, []byte{0x00, 0x00})

	d := NewDeframer(CmdSync)
	if !feedAll(d, first) {
		t.Fatalf("first reply not accepted")
	}

	d = NewDeframer(CmdSync)
	if !feedAll(d, second) {
		t.Fatalf("second reply not accepted")
	}
}
