// Package frame implements the length-prefixed message codec shared by every client-to-server and
// server-to-client tag: a one-byte tag, a four-byte big-endian length (including itself), and a payload.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

// HeaderLen is the number of bytes preceding the payload in a frame: the tag and the length field.
const HeaderLen = 1 + 4

var errUnfinishedMessage = errors.New("frame: TakeMessage called before previous message was finished")

// Reader buffers an underlying stream and decodes frames from it.
//
// A Reader is owned by exactly one connection goroutine and is not safe for concurrent use.
type Reader struct {
	br      *bufio.Reader
	tag     byte
	length  int
	consumed int
}

// NewReader wraps r in a buffered Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 16*1024)}
}

// TakeStartup reads a tag-less frame: a four-byte big-endian length (including itself) followed by that
// many payload bytes. It mirrors the wire format of the initial handshake message, which precedes every
// tagged frame and carries no tag byte of its own.
func (r *Reader) TakeStartup() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = io.ErrUnexpectedEOF
		}

		return err
	}

	length := int(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 4 {
		return nebulaerr.NewProtocolErrorf("invalid startup message length %d", length)
	}

	r.tag = 0
	r.length = length
	r.consumed = 4

	return nil
}

// TakeMessage reads the next frame's tag and length and positions the Reader at the payload start. It
// blocks until the full frame header, but not necessarily the full payload, is available. It never
// re-reads a frame: while the previous frame still has unread payload bytes, TakeMessage fails with an
// InternalServerError and reads nothing.
func (r *Reader) TakeMessage() (tag byte, err error) {
	if r.length > 0 && r.consumed < r.length {
		// A previous frame wasn't fully consumed; this is a caller bug, not a protocol error, but we
		// refuse to silently skip bytes.
		return 0, nebulaerr.NewInternalServerError(errUnfinishedMessage)
	}

	tagByte, err := r.br.ReadByte()
	if err != nil {
		return 0, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = io.ErrUnexpectedEOF
		}

		return 0, err
	}

	length := int(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 4 {
		return 0, nebulaerr.NewProtocolErrorf("invalid message length %d", length)
	}

	r.tag = tagByte
	r.length = length
	r.consumed = 4

	return tagByte, nil
}

// Tag returns the tag of the frame currently being read.
func (r *Reader) Tag() byte {
	return r.tag
}

// Remaining returns the number of payload bytes not yet consumed by the current frame.
func (r *Reader) Remaining() int {
	return r.length - r.consumed
}

func (r *Reader) advance(n int) {
	r.consumed += n
}

// ReadByte reads a single byte from the payload.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, err
	}

	r.advance(1)
	return b, nil
}

// ReadInt16 reads a big-endian signed 16-bit integer.
func (r *Reader) ReadInt16() (int16, error) {
	var buf [2]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}

	return int16(binary.BigEndian.Uint16(buf[:])), nil
}

// ReadUint16 reads a big-endian unsigned 16-bit integer.
func (r *Reader) ReadUint16() (uint16, error) {
	var buf [2]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadInt32 reads a big-endian signed 32-bit integer.
func (r *Reader) ReadInt32() (int32, error) {
	var buf [4]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}

	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// ReadUint32 reads a big-endian unsigned 32-bit integer.
func (r *Reader) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadInt64 reads a big-endian signed 64-bit integer.
func (r *Reader) ReadInt64() (int64, error) {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}

	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadUint64 reads a big-endian unsigned 64-bit integer.
func (r *Reader) ReadUint64() (uint64, error) {
	var buf [8]byte
	if err := r.readFull(buf[:]); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadUUID reads 16 raw bytes and parses them as a UUID.
func (r *Reader) ReadUUID() (uuid.UUID, error) {
	var buf [16]byte
	if err := r.readFull(buf[:]); err != nil {
		return uuid.Nil, err
	}

	return uuid.FromBytes(buf[:])
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.readFull(buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// ReadLenPrefixedBytes reads a u32 length followed by that many raw bytes.
func (r *Reader) ReadLenPrefixedBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}

	return r.ReadBytes(int(n))
}

// ReadLenPrefixedUTF8 reads a u32 length followed by that many UTF-8-encoded bytes, returned as a string.
func (r *Reader) ReadLenPrefixedUTF8() (string, error) {
	b, err := r.ReadLenPrefixedBytes()
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// FinishMessage requires that the payload cursor has reached the frame's declared length, i.e. every
// byte the sender claimed to send has been read. Trailing unread bytes are a protocol error, never
// silently discarded.
func (r *Reader) FinishMessage() error {
	if r.consumed != r.length {
		return nebulaerr.NewProtocolErrorf(
			"unparsed data: consumed %d of %d declared bytes", r.consumed, r.length)
	}

	return nil
}

func (r *Reader) readFull(buf []byte) error {
	if r.Remaining() < len(buf) {
		return nebulaerr.NewProtocolErrorf(
			"insufficient bytes: need %d, have %d remaining in frame", len(buf), r.Remaining())
	}

	if _, err := io.ReadFull(r.br, buf); err != nil {
		return err
	}

	r.advance(len(buf))
	return nil
}
