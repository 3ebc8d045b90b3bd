package research

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns a sequence of byte chunks into text. A multi-byte sequence
// split across chunks is carried over to the next call instead of being
// replaced. Invalid bytes decode to U+FFFD.
type Decoder struct {
	t     transform.Transformer
	carry []byte
}

func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode returns the text completed by chunk.
func (d *Decoder) Decode(chunk []byte) string {
	return d.decode(chunk, false)
}

// Flush returns whatever is still pending, as replacement characters, and
// resets the decoder.
func (d *Decoder) Flush() string {
	if len(d.carry) == 0 {
		return ""
	}
	out := d.decode(nil, true)
	d.t.Reset()
	return out
}

// Pending reports how many bytes are waiting for the rest of their sequence.
func (d *Decoder) Pending() int {
	return len(d.carry)
}

func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := append(d.carry, chunk...)
	d.carry = nil
	if len(src) == 0 {
		return ""
	}

	// worst case every byte becomes a 3 byte U+FFFD
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
	if err == transform.ErrShortSrc {
		d.carry = append([]byte(nil), src[nSrc:]...)
	}
	return string(dst[:nDst])
}
