package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"github.com/nebuladb/nebula-core/catalog"
)

// CompileRequest carries every input the Request Fingerprint is a stable hash of, plus the raw query
// bytes the out-of-scope compiler needs to tokenize and plan.
type CompileRequest struct {
	DatabaseName string
	Namespace    string
	Module       string

	ProtocolVersion ProtocolVersion
	OutputFormat    byte
	ExpectOne       bool

	ImplicitLimit       uint64
	InlineTypeIDs       bool
	InlineTypeNames     bool
	InlineObjectIDs     bool
	AllowCapabilities   catalog.Capability
	ReadOnly            bool

	Query []byte
}

// Fingerprint computes the Request Fingerprint: a stable hash over every normalized input named in the
// data model, so two requests that would compile identically collapse to the same cache key. Tokenization
// of Query itself is the out-of-scope compiler's job; here it stands in as the raw query bytes, which is
// sound for cache correctness (identical bytes always tokenize identically) even though it is coarser than
// a true token-stream hash.
func (r CompileRequest) Fingerprint() catalog.Fingerprint {
	h := sha256.New()
	h.Write(r.Query)
	h.Write([]byte(r.DatabaseName))
	h.Write([]byte(r.Namespace))
	h.Write([]byte(r.Module))

	var buf [8]byte
	binary.BigEndian.PutUint16(buf[:2], r.ProtocolVersion.Major)
	binary.BigEndian.PutUint16(buf[2:4], r.ProtocolVersion.Minor)
	h.Write(buf[:4])

	h.Write([]byte{r.OutputFormat, boolByte(r.ExpectOne), boolByte(r.InlineTypeIDs), boolByte(r.InlineTypeNames), boolByte(r.InlineObjectIDs), boolByte(r.ReadOnly)})

	binary.BigEndian.PutUint64(buf[:], r.ImplicitLimit)
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], uint64(r.AllowCapabilities))
	h.Write(buf[:])

	var fp catalog.Fingerprint
	copy(fp[:], h.Sum(nil))

	return fp
}

func boolByte(b bool) byte {
	if b {
		return 1
	}

	return 0
}

// Compiler is the out-of-scope "EdgeQL/GraphQL-equivalent compiler pool" collaborator, referenced only by
// interface: given a cache-miss request, produce the Query Unit Group it compiles to.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (*catalog.QueryUnitGroup, error)
}

// DumpRestorer is the out-of-scope "bulk schema+data export/import pipeline" collaborator that backs the
// Dump and Restore frames: the wire framing of the payload itself (and whatever transport it streams over)
// is entirely the subsystem's concern, so the protocol loop only waits on completion.
type DumpRestorer interface {
	// Dump produces a full schema+data export of databaseName. The returned error, if any, is reported to
	// the client as-is (wrapped in InternalServerError if it is not already a nebulaerr.Kind).
	Dump(ctx context.Context, databaseName string) error

	// Restore loads a dump previously produced by Dump back into databaseName. header carries whatever
	// subsystem-specific metadata preceded the dump payload on the wire.
	Restore(ctx context.Context, databaseName string, header []byte) error
}
