package frame

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

var errFlushWithOpenMessage = errors.New("frame: Flush called with an open message")

// Writer buffers outgoing frames and flushes them to an underlying stream.
//
// A Writer is owned by exactly one connection goroutine and is not safe for concurrent use.
type Writer struct {
	w   io.Writer
	buf []byte

	// msgStart is the index into buf of the length field of the message currently being built, or -1
	// when no message is open.
	msgStart int
}

// NewWriter wraps w in a buffering Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, msgStart: -1}
}

// NewMessage begins a new frame with the given tag. It must be followed by zero or more writes and
// exactly one EndMessage before the next NewMessage.
func (w *Writer) NewMessage(tag byte) {
	if w.msgStart >= 0 {
		panic("frame: NewMessage called while a message is already open")
	}

	w.buf = append(w.buf, tag)
	w.msgStart = len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
}

// EndMessage backfills the length field of the currently open message, covering itself and every byte
// written since the matching NewMessage.
func (w *Writer) EndMessage() {
	if w.msgStart < 0 {
		panic("frame: EndMessage called without an open message")
	}

	length := len(w.buf) - w.msgStart
	binary.BigEndian.PutUint32(w.buf[w.msgStart:w.msgStart+4], uint32(length))
	w.msgStart = -1
}

// WriteByte appends a single byte to the currently open message.
func (w *Writer) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteInt16 appends a big-endian signed 16-bit integer.
func (w *Writer) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteUint16 appends a big-endian unsigned 16-bit integer.
func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteInt32 appends a big-endian signed 32-bit integer.
func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteUint32 appends a big-endian unsigned 32-bit integer.
func (w *Writer) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteInt64 appends a big-endian signed 64-bit integer.
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteUint64 appends a big-endian unsigned 64-bit integer.
func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteUUID appends the 16 raw bytes of id.
func (w *Writer) WriteUUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// WriteBytes appends raw bytes verbatim, with no length prefix.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteLenPrefixedBytes appends a u32 length followed by b.
func (w *Writer) WriteLenPrefixedBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.WriteBytes(b)
}

// WriteLenPrefixedUTF8 appends a u32 length followed by the UTF-8 bytes of s.
func (w *Writer) WriteLenPrefixedUTF8(s string) {
	w.WriteLenPrefixedBytes([]byte(s))
}

// Flush writes all buffered, completed messages to the underlying stream and resets the buffer.
func (w *Writer) Flush() error {
	if w.msgStart >= 0 {
		return nebulaerr.NewInternalServerError(errFlushWithOpenMessage)
	}

	if len(w.buf) == 0 {
		return nil
	}

	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}

	w.buf = w.buf[:0]
	return nil
}
