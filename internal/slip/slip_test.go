package slip

import (
	"bytes"
	"testing"
)

func TestEscape_EmptyData(t *testing.T) {
	if result := Escape(nil); len(result) != 0 {
		t.Errorf("Escape(nil) = %v, want empty", result)
	}
	if result := Escape([]byte{}); len(result) != 0 {
		t.Errorf("Escape([]) = %v, want empty", result)
	}
}

func TestEscape_NoSpecialBytes(t *testing.T) {
	input := []byte{0x01, 0x02, 0x03, 0x04}
	result := Escape(input)
	if !bytes.Equal(result, input) {
		t.Errorf("Escape(%v) = %v, want %v", input, result, input)
	}
}

func TestEscape_EndByte(t *testing.T) {
	input := []byte{0x01, End, 0x03}
	result := Escape(input)
	expected := []byte{0x01, Esc, EscEnd, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Escape(%v) = %v, want %v", input, result, expected)
	}
}

func TestEscape_EscByte(t *testing.T) {
	input := []byte{0x01, Esc, 0x03}
	result := Escape(input)
	expected := []byte{0x01, Esc, EscEsc, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Escape(%v) = %v, want %v", input, result, expected)
	}
}

func TestEscape_MultipleSpecialBytes(t *testing.T) {
	input := []byte{End, Esc, End, Esc}
	result := Escape(input)
	expected := []byte{Esc, EscEnd, Esc, EscEsc, Esc, EscEnd, Esc, EscEsc}
	if !bytes.Equal(result, expected) {
		t.Errorf("Escape(%v) = %v, want %v", input, result, expected)
	}
}

func TestEscape_NoBareSpecialBytes(t *testing.T) {
	// Escaped output may contain End only never, and Esc only as an
	// escape prefix.
	input := make([]byte, 512)
	for i := range input {
		input[i] = byte(i)
	}
	result := Escape(input)

	for i := 0; i < len(result); i++ {
		if result[i] == End {
			t.Fatalf("Escape output contains bare END at %d", i)
		}
		if result[i] == Esc {
			if i+1 >= len(result) {
				t.Fatalf("Escape output ends with dangling ESC")
			}
			next := result[i+1]
			if next != EscEnd && next != EscEsc {
				t.Fatalf("Escape output has invalid escape pair %02X %02X", Esc, next)
			}
			i++
		}
	}
}

func TestUnescape_EndByte(t *testing.T) {
	input := []byte{0x01, Esc, EscEnd, 0x03}
	result := Unescape(input)
	expected := []byte{0x01, End, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unescape(%v) = %v, want %v", input, result, expected)
	}
}

func TestUnescape_EscByte(t *testing.T) {
	input := []byte{0x01, Esc, EscEsc, 0x03}
	result := Unescape(input)
	expected := []byte{0x01, Esc, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unescape(%v) = %v, want %v", input, result, expected)
	}
}

func TestUnescape_UnknownEscapeSequence(t *testing.T) {
	// An unknown escaped byte decodes to the literal pair {Esc, byte}
	input := []byte{0x01, Esc, 0xFF, 0x03}
	result := Unescape(input)
	expected := []byte{0x01, Esc, 0xFF, 0x03}
	if !bytes.Equal(result, expected) {
		t.Errorf("Unescape(%v) = %v, want %v", input, result, expected)
	}
}

func TestEscapeUnescape_RoundTrip(t *testing.T) {
	testCases := [][]byte{
		{},
		{0x00},
		{0x01, 0x02, 0x03},
		{End},
		{Esc},
		{End, Esc},
		{0x00, End, 0x00, Esc, 0x00},
		{0xFF, 0xFE, 0xFD},
		// Large data
		make([]byte, 256),
	}

	for i, tc := range testCases {
		escaped := Escape(tc)
		unescaped := Unescape(escaped)
		if !bytes.Equal(unescaped, tc) {
			t.Errorf("Case %d: RoundTrip(%v) = %v, want %v", i, tc, unescaped, tc)
		}
	}
}

func TestEscapeUnescape_RoundTrip_AllByteValues(t *testing.T) {
	input := make([]byte, 256)
	for i := range input {
		input[i] = byte(i)
	}
	result := Unescape(Escape(input))
	if !bytes.Equal(result, input) {
		t.Errorf("RoundTrip over all byte values failed")
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	raw := []byte{0x01, Esc, EscEnd, Esc, EscEsc, 0x02}
	expected := []byte{0x01, End, Esc, 0x02}

	var d Decoder
	var result []byte
	for _, b := range raw {
		result = d.Feed(result, b)
	}
	if !bytes.Equal(result, expected) {
		t.Errorf("Decoder fed %v = %v, want %v", raw, result, expected)
	}
}

func TestDecoder_EscProducesNothingUntilNextByte(t *testing.T) {
	var d Decoder
	result := d.Feed(nil, Esc)
	if len(result) != 0 {
		t.Errorf("Feed(Esc) = %v, want no output", result)
	}
	result = d.Feed(result, EscEnd)
	if !bytes.Equal(result, []byte{End}) {
		t.Errorf("Feed(Esc, EscEnd) = %v, want [End]", result)
	}
}

func TestDecoder_Reset(t *testing.T) {
	var d Decoder
	d.Feed(nil, Esc)
	d.Reset()

	// After Reset the pending escape is gone
	result := d.Feed(nil, EscEnd)
	if !bytes.Equal(result, []byte{EscEnd}) {
		t.Errorf("Feed after Reset = %v, want [0x%02X]", result, EscEnd)
	}
}
