// Package catalog implements the process-wide Database Registry: the set of named databases, their
// namespaces, schema versions, and compiled-query caches, arbitrated under concurrent access.
package catalog

import "github.com/google/uuid"

// Capability is a bitmask gating classes of operation a query unit group may require.
type Capability uint64

const (
	CapModification Capability = 1 << iota
	CapDDL
	CapTransaction
	CapSessionConfig
	CapPersistentConfig
	CapSet
	CapDescribe
	CapSQL
)

// Fingerprint is a stable hash over a request's normalized inputs (tokenized source, protocol version,
// output format, expect-one flag, implicit limit, inline-typeids/typenames/objectids, allow-capabilities,
// module, namespace, read-only). Two equal fingerprints are interchangeable for compilation purposes.
type Fingerprint [32]byte

// Cardinality describes how many rows a query unit's result set may contain.
type Cardinality uint8

const (
	CardinalityNoResult Cardinality = iota
	CardinalityAtMostOne
	CardinalityMany
)

// ConfigScope names the scope a config_ops entry applies to.
type ConfigScope uint8

const (
	ConfigScopeSession ConfigScope = iota
	ConfigScopeDatabase
	ConfigScopeSystem
)

// ConfigOp is one configuration mutation carried by a query unit.
type ConfigOp struct {
	Scope ConfigScope
	Name  string
	Value any
}

// QueryUnit is one atomic backend execution step.
type QueryUnit struct {
	SQL          []string
	Status       []byte
	Capabilities Capability

	InTypeID   uuid.UUID
	OutTypeID  uuid.UUID
	InTypeData []byte
	OutTypeData []byte

	Cardinality Cardinality

	DDLStmtID string
	CreateDB  string
	DropDB    string
	CreateNS  string
	DropNS    string

	TxSavepointRollback bool
	TxRollback          bool
	SPName              string

	SystemConfig []ConfigOp
	ConfigOps    []ConfigOp

	IsTransactional bool
	SQLHash         []byte
}

// IsDDL reports whether this unit carries a DDL statement id.
func (u *QueryUnit) IsDDL() bool {
	return u.DDLStmtID != ""
}

// QueryUnitGroup is an ordered, non-empty sequence of query units sharing a capability union. Its
// outward type description is typically that of its first unit.
type QueryUnitGroup struct {
	Units []*QueryUnit

	FirstExtra  int
	ExtraCounts []int
	ExtraBlobs  [][]byte
}

// Capabilities returns the union of every unit's capability mask.
func (g *QueryUnitGroup) Capabilities() Capability {
	var c Capability
	for _, u := range g.Units {
		c |= u.Capabilities
	}

	return c
}

// OutDescriptor returns the (in_type_id, out_type_id) pair describing this group, taken from its first
// unit per spec.
func (g *QueryUnitGroup) OutDescriptor() (in, out uuid.UUID) {
	if len(g.Units) == 0 {
		return uuid.Nil, uuid.Nil
	}

	return g.Units[0].InTypeID, g.Units[0].OutTypeID
}

// CompiledQuery is the immutable result of compilation, borrowed by many executions and never mutated
// after first publication.
type CompiledQuery struct {
	Group *QueryUnitGroup
}
