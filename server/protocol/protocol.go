// Package protocol implements the Minecraft Classic 0.30 wire protocol
// together with the ClassiCube extension protocol (CPE) additions used
// during capability negotiation. Packets are fixed-size binary frames: a
// single id byte followed by a body whose length is determined entirely by
// the id. All integers are big endian.
package protocol

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	// Version is the protocol version byte of Classic 0.30 clients.
	Version = 0x07
	// ExtensionMagic is the value of the unused byte in PlayerIdentification
	// that marks a client as capable of the extension handshake.
	ExtensionMagic = 0x42

	// StringLength is the fixed on-wire length of Classic strings.
	StringLength = 64
	// ArrayLength is the fixed on-wire length of Classic byte arrays, used
	// by level data chunks.
	ArrayLength = 1024
	// PositionUnits is the scale of fixed-point positions: 32 units per
	// block, leaving 5 fractional bits in an int16.
	PositionUnits = 32
)

const (
	// SoftwareName identifies this server in the extension handshake.
	SoftwareName = "calcite"
	// SoftwareVersion is the version advertised alongside SoftwareName.
	SoftwareVersion = "0.1.0"
)

// Reader decodes packet bodies from a byte slice. Reads past the end of the
// slice set the short flag instead of panicking, so a packet decode can be
// validated with a single check at the end.
type Reader struct {
	buf   []byte
	off   int
	short bool
}

// NewReader returns a Reader over the packet body b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Short reports if any read ran past the end of the buffer.
func (r *Reader) Short() bool {
	return r.short
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() byte {
	if r.off >= len(r.buf) {
		r.short = true
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

// Int8 reads a signed byte.
func (r *Reader) Int8() int8 {
	return int8(r.Uint8())
}

// Uint16 reads a big-endian unsigned short.
func (r *Reader) Uint16() uint16 {
	return uint16(r.Uint8())<<8 | uint16(r.Uint8())
}

// Int16 reads a big-endian signed short.
func (r *Reader) Int16() int16 {
	return int16(r.Uint16())
}

// Int32 reads a big-endian signed int.
func (r *Reader) Int32() int32 {
	return int32(r.Uint16())<<16 | int32(r.Uint16())
}

// Coord reads a fixed-point block coordinate and returns it in blocks.
func (r *Reader) Coord() float32 {
	return float32(r.Int16()) / PositionUnits
}

// String reads a 64-byte space-padded string, decoding it from code page
// 437 and trimming surrounding whitespace.
func (r *Reader) String() string {
	var sb strings.Builder
	for i := 0; i < StringLength; i++ {
		sb.WriteRune(charmap.CodePage437.DecodeByte(r.Uint8()))
	}
	return strings.TrimSpace(sb.String())
}

// Bytes reads a 1024-byte array, returning the payload up to its trailing
// zero padding.
func (r *Reader) Bytes() []byte {
	raw := make([]byte, ArrayLength)
	for i := range raw {
		raw[i] = r.Uint8()
	}
	return bytes.TrimRight(raw, "\x00")
}

// Writer encodes packet bodies. The zero value is ready for use.
type Writer struct {
	buf bytes.Buffer
}

// Bytes returns the accumulated packet bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Uint8 writes a single byte.
func (w *Writer) Uint8(b byte) {
	w.buf.WriteByte(b)
}

// Int8 writes a signed byte.
func (w *Writer) Int8(b int8) {
	w.Uint8(byte(b))
}

// Uint16 writes a big-endian unsigned short.
func (w *Writer) Uint16(v uint16) {
	w.Uint8(byte(v >> 8))
	w.Uint8(byte(v))
}

// Int16 writes a big-endian signed short.
func (w *Writer) Int16(v int16) {
	w.Uint16(uint16(v))
}

// Int32 writes a big-endian signed int.
func (w *Writer) Int32(v int32) {
	w.Uint16(uint16(v >> 16))
	w.Uint16(uint16(v))
}

// Coord writes a block coordinate as a fixed-point short.
func (w *Writer) Coord(v float32) {
	w.Int16(int16(v * PositionUnits))
}

// String writes s as a 64-byte string, encoding to code page 437 and
// padding with spaces. Overlong strings are truncated, unmappable runes
// become '?'.
func (w *Writer) String(s string) {
	n := 0
	for _, r := range s {
		if n == StringLength {
			break
		}
		b, ok := charmap.CodePage437.EncodeRune(r)
		if !ok {
			b = '?'
		}
		w.Uint8(b)
		n++
	}
	for ; n < StringLength; n++ {
		w.Uint8(' ')
	}
}

// Array writes b as a 1024-byte array padded with zeros. Overlong slices
// are truncated.
func (w *Writer) Array(b []byte) {
	n := min(len(b), ArrayLength)
	w.buf.Write(b[:n])
	for ; n < ArrayLength; n++ {
		w.Uint8(0)
	}
}
