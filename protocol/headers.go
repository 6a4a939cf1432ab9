package protocol

import (
	"encoding/binary"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/frame"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

// Recognized client header keys. Unknown keys fail the request with a ProtocolError.
const (
	HeaderImplicitLimit     uint16 = 1
	HeaderImplicitTypeIDs   uint16 = 2
	HeaderImplicitTypeNames uint16 = 3
	HeaderAllowCapabilities uint16 = 4
	HeaderExplicitObjectIDs uint16 = 5
	HeaderExplicitModule    uint16 = 6
	HeaderProhibitMutation  uint16 = 7
)

// ServerHeaderCapabilities is the one reserved server-side header key, carrying a length-prefixed u64
// capability bitmask in ParseComplete/CommandDataDescription frames.
const ServerHeaderCapabilities uint16 = 1

var knownClientHeaders = map[uint16]struct{}{
	HeaderImplicitLimit:     {},
	HeaderImplicitTypeIDs:   {},
	HeaderImplicitTypeNames: {},
	HeaderAllowCapabilities: {},
	HeaderExplicitObjectIDs: {},
	HeaderExplicitModule:    {},
	HeaderProhibitMutation:  {},
}

// Headers is a parsed client headers block: key -> raw lp_bytes value.
type Headers map[uint16][]byte

// readHeaders reads `nfields:u16` then `(key:u16, value:lp_bytes)×nfields`, failing with a ProtocolError
// on any key outside knownClientHeaders.
func readHeaders(r *frame.Reader) (Headers, error) {
	nfields, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}

	headers := make(Headers, nfields)
	for i := uint16(0); i < nfields; i++ {
		key, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}

		if _, ok := knownClientHeaders[key]; !ok {
			return nil, nebulaerr.NewProtocolErrorf("unknown header key %#x", key)
		}

		value, err := r.ReadLenPrefixedBytes()
		if err != nil {
			return nil, err
		}

		headers[key] = value
	}

	return headers, nil
}

func (h Headers) uint64(key uint16) (uint64, bool) {
	v, ok := h[key]
	if !ok || len(v) != 8 {
		return 0, false
	}

	return binary.BigEndian.Uint64(v), true
}

func (h Headers) uint64Or(key uint16, fallback uint64) uint64 {
	if v, ok := h.uint64(key); ok {
		return v
	}

	return fallback
}

func (h Headers) string(key uint16) (string, bool) {
	v, ok := h[key]
	return string(v), ok
}

func (h Headers) bool(key uint16) bool {
	v, ok := h[key]
	return ok && len(v) == 1 && v[0] != 0
}

// allowCapabilities reads ALLOW_CAPABILITIES, defaulting to fallback (the view's own capability mask) when
// the header is absent, matching the "optional header, connection default otherwise" pattern used for
// every other header in this block.
func (h Headers) allowCapabilities(fallback catalog.Capability) catalog.Capability {
	if v, ok := h.uint64(HeaderAllowCapabilities); ok {
		return catalog.Capability(v)
	}

	return fallback
}

// writeCapabilitiesHeader appends a one-field headers block carrying SERVER_HEADER_CAPABILITIES, used by
// ParseComplete and CommandDataDescription.
func writeCapabilitiesHeader(w *frame.Writer, capabilities catalog.Capability) {
	w.WriteUint16(1)
	w.WriteUint16(ServerHeaderCapabilities)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(capabilities))
	w.WriteLenPrefixedBytes(buf[:])
}
