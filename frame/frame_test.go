package frame_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/nebuladb/nebula-core/frame"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	var buf bytes.Buffer
	w := frame.NewWriter(&buf)
	w.NewMessage('P')
	w.WriteByte(0x01)
	w.WriteInt16(-2)
	w.WriteUint32(42)
	w.WriteUUID(id)
	w.WriteLenPrefixedUTF8("select 1")
	w.EndMessage()
	require.NoError(t, w.Flush())

	r := frame.NewReader(&buf)
	tag, err := r.TakeMessage()
	require.NoError(t, err)
	require.Equal(t, byte('P'), tag)

	b, err := r.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), b)

	i16, err := r.ReadInt16()
	require.NoError(t, err)
	require.Equal(t, int16(-2), i16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), u32)

	gotID, err := r.ReadUUID()
	require.NoError(t, err)
	require.Equal(t, id, gotID)

	s, err := r.ReadLenPrefixedUTF8()
	require.NoError(t, err)
	require.Equal(t, "select 1", s)

	require.NoError(t, r.FinishMessage())
}

func TestFinishMessageDetectsUnparsedData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := frame.NewWriter(&buf)
	w.NewMessage('S')
	w.WriteInt32(1)
	w.WriteInt32(2)
	w.EndMessage()
	require.NoError(t, w.Flush())

	r := frame.NewReader(&buf)
	_, err := r.TakeMessage()
	require.NoError(t, err)

	_, err = r.ReadInt32()
	require.NoError(t, err)

	err = r.FinishMessage()
	require.Error(t, err)
}

func TestReadInsufficientBytes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := frame.NewWriter(&buf)
	w.NewMessage('S')
	w.WriteByte(1)
	w.EndMessage()
	require.NoError(t, w.Flush())

	r := frame.NewReader(&buf)
	_, err := r.TakeMessage()
	require.NoError(t, err)

	_, err = r.ReadInt64()
	require.Error(t, err)
}
