package protocol

import (
	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/frame"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

// writeAuthenticationOk writes AuthenticationOk('R', 0).
func writeAuthenticationOk(w *frame.Writer) {
	w.NewMessage(TagAuthentication)
	w.WriteUint32(0)
	w.EndMessage()
}

// writeBackendKeyData writes BackendKeyData('K', 32 zero bytes).
func writeBackendKeyData(w *frame.Writer) {
	w.NewMessage(TagBackendKeyData)
	w.WriteBytes(make([]byte, 32))
	w.EndMessage()
}

// writeParameterStatus writes one ParameterStatus('S', key, value) frame.
func writeParameterStatus(w *frame.Writer, key, value string) {
	w.NewMessage(TagParameterStatus)
	w.WriteLenPrefixedUTF8(key)
	w.WriteLenPrefixedUTF8(value)
	w.EndMessage()
}

// writeReadyForQuery writes ReadyForQuery('Z', status).
func writeReadyForQuery(w *frame.Writer, status byte) {
	w.NewMessage(TagReadyForQuery)
	w.WriteByte(status)
	w.EndMessage()
}

// writeNegotiateProtocolVersion writes NegotiateProtocolVersion('v', major, minor).
func writeNegotiateProtocolVersion(w *frame.Writer, v ProtocolVersion) {
	w.NewMessage(TagNegotiateProtocolVersion)
	w.WriteUint16(v.Major)
	w.WriteUint16(v.Minor)
	w.EndMessage()
}

// writeErrorResponse writes ErrorResponse('E', code, message) for any nebulaerr.Kind, wrapping non-Kind
// errors in InternalServerError first.
func writeErrorResponse(w *frame.Writer, err error) {
	kind := nebulaerr.AsKind(err)

	w.NewMessage(TagErrorResponse)
	w.WriteUint32(uint32(kind.ErrorCode()))
	w.WriteLenPrefixedUTF8(kind.Error())
	w.EndMessage()
}

// writeCommandComplete writes CommandComplete('C', status).
func writeCommandComplete(w *frame.Writer, status string) {
	w.NewMessage(TagCommandComplete)
	w.WriteLenPrefixedUTF8(status)
	w.EndMessage()
}

// writeLogMessage writes LogMessage('L', message).
func writeLogMessage(w *frame.Writer, message string) {
	w.NewMessage(TagLogMessage)
	w.WriteLenPrefixedUTF8(message)
	w.EndMessage()
}

// writeDescriptor writes the common type-description payload shared by ParseComplete('1') and
// CommandDataDescription('T'): a capabilities header, the cardinality byte, the in/out type ids, and —
// when version is above MaxLegacyProtocol, or inlineTypeData is requested by the caller for a
// legacy connection — the in/out type data blobs.
func writeDescriptor(w *frame.Writer, tag byte, group *catalog.QueryUnitGroup, version ProtocolVersion, inlineTypeData bool) {
	in, out := group.OutDescriptor()
	var cardinality catalog.Cardinality
	if len(group.Units) > 0 {
		cardinality = group.Units[0].Cardinality
	}

	w.NewMessage(tag)
	writeCapabilitiesHeader(w, group.Capabilities())
	w.WriteByte(byte(cardinality))
	w.WriteUUID(in)
	w.WriteUUID(out)

	if !version.IsLegacy() || inlineTypeData {
		var inData, outData []byte
		if len(group.Units) > 0 {
			inData, outData = group.Units[0].InTypeData, group.Units[0].OutTypeData
		}

		w.WriteLenPrefixedBytes(inData)
		w.WriteLenPrefixedBytes(outData)
	}

	w.EndMessage()
}
