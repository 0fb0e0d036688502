// Package wire implements the session protocol between a remote controller
// and a pin controller: a binary message stream over any ordered, reliable,
// bidirectional byte transport.
package wire

import (
	"fmt"
	"io"
)

// uleb128 is an unsigned little-endian base-128 varint, used to prefix
// variable-length payloads.
type uleb128 struct {
	V uint64
}

func (ul *uleb128) Encode(w io.Writer) (int, error) {
	buf := make([]byte, 0, 10)
	v := ul.V

	for {
		c := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		buf = append(buf, c)
		if c&0x80 == 0 {
			break
		}
	}

	return w.Write(buf)
}

func (ul *uleb128) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	total := 0

	var x uint64
	var s uint
	for {
		n, err := io.ReadFull(rd, buf)
		total += n
		if err != nil {
			return total, fmt.Errorf("couldn't read byte: %w", err)
		}
		b := buf[0]

		x |= (uint64(0x7F & b)) << s
		if b&0x80 == 0 {
			break
		}

		s += 7
	}

	ul.V = x

	return total, nil
}

// maxBlobSize bounds length-prefixed payloads so a malformed or hostile
// peer can't make us allocate arbitrarily.
const maxBlobSize = 1 << 20

type wireBlob struct {
	V []byte
}

func (b *wireBlob) Decode(rd io.Reader) (int, error) {
	var size uleb128
	sizeN, err := size.Decode(rd)
	if err != nil {
		return sizeN, fmt.Errorf("couldn't read blob size: %w", err)
	}

	if size.V > maxBlobSize {
		return sizeN, fmt.Errorf("blob size %d exceeds limit", size.V)
	}

	buf := make([]byte, size.V)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return sizeN + n, fmt.Errorf("couldn't read blob: %w", err)
	}

	b.V = buf

	return sizeN + n, nil
}

func (b *wireBlob) Encode(w io.Writer) (int, error) {
	size := uleb128{V: uint64(len(b.V))}
	sizeN, err := size.Encode(w)
	if err != nil {
		return sizeN, fmt.Errorf("couldn't write blob size: %w", err)
	}

	// A zero-length Write blocks on net.Pipe until a reader rendezvous,
	// while Decode skips the read entirely for an empty blob.
	if len(b.V) == 0 {
		return sizeN, nil
	}

	n, err := w.Write(b.V)
	if err != nil {
		return sizeN + n, fmt.Errorf("couldn't write blob: %w", err)
	}

	return sizeN + n, nil
}

type wireString struct {
	V string
}

func (str *wireString) Decode(rd io.Reader) (int, error) {
	blob := wireBlob{}

	n, err := blob.Decode(rd)
	if err != nil {
		return n, fmt.Errorf("couldn't read string: %w", err)
	}

	str.V = string(blob.V)

	return n, nil
}

func (str *wireString) Encode(w io.Writer) (int, error) {
	blob := wireBlob{V: []byte(str.V)}
	return blob.Encode(w)
}

type wireBool struct {
	V bool
}

func (b *wireBool) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 1)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("couldn't read bool: %w", err)
	}

	switch buf[0] {
	case 0x00:
		b.V = false
	case 0x01:
		b.V = true
	default:
		return n, fmt.Errorf("bool must be 0x00 or 0x01, not %x", buf[0])
	}

	return n, nil
}

func (b *wireBool) Encode(w io.Writer) (int, error) {
	val := byte(0x00)
	if b.V {
		val = 0x01
	}

	return w.Write([]byte{val})
}
