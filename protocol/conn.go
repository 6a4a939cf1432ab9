package protocol

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/exec"
	"github.com/nebuladb/nebula-core/frame"
	"github.com/nebuladb/nebula-core/nebulaerr"
	"github.com/nebuladb/nebula-core/session"
)

// parseState remembers the most recently Parsed query unit group, so a later Describe/Execute/Optimistic
// Execute on the same connection can reuse it without a statement-name lookup (only one in-flight parse
// is ever supported, per the data model's "no prepared statement names" simplification).
type parseState struct {
	fingerprint catalog.Fingerprint
	group       *catalog.QueryUnitGroup
	req         CompileRequest
}

// connState is the per-connection protocol state machine: the raw frame reader/writer, the negotiated
// protocol version, the authenticated database name, the session View, and the last Parse result.
type connState struct {
	engine *Engine

	r *frame.Reader
	w *frame.Writer

	protocolVersion ProtocolVersion
	databaseName    string
	view            *session.View

	lastParse *parseState
}

// run drives one connection end to end: handshake, authentication, and the tag-dispatch main loop.
func (c *connState) run(ctx context.Context) error {
	params, err := c.handshake(ctx)
	if err != nil {
		return c.fatal(err)
	}

	database, err := c.authenticate(ctx, params)
	if err != nil {
		return c.fatal(err)
	}

	c.databaseName = database
	db := c.engine.registry.Lookup(database)
	c.view = session.NewView(db, "default", c.engine.cfg.DefaultCapabilities, c.engine.cfg.QueryCacheEnabled)
	defer c.view.Close()

	writeAuthenticationOk(c.w)
	writeBackendKeyData(c.w)
	writeParameterStatus(c.w, "protocol_version", c.protocolVersion.String())
	writeReadyForQuery(c.w, c.status())
	if err := c.w.Flush(); err != nil {
		return err
	}

	for {
		tag, err := c.r.TakeMessage()
		if err != nil {
			return c.fatal(err)
		}

		if tag == TagTerminate {
			if err := c.r.FinishMessage(); err != nil {
				return c.fatal(err)
			}

			return nil
		}

		derr := c.dispatch(ctx, tag)
		if derr == nil {
			if ferr := c.w.Flush(); ferr != nil {
				return ferr
			}

			continue
		}

		var kind nebulaerr.Kind
		if !errors.As(derr, &kind) {
			return c.fatal(derr)
		}

		writeErrorResponse(c.w, kind)

		if tag == TagSimpleQuery {
			writeReadyForQuery(c.w, c.status())
			if err := c.w.Flush(); err != nil {
				return err
			}

			continue
		}

		if err := c.recoverUntilSync(ctx); err != nil {
			return c.fatal(err)
		}

		if err := c.w.Flush(); err != nil {
			return err
		}
	}
}

// fatal normalizes a clean peer disconnect into io.EOF and passes everything else through unchanged.
func (c *connState) fatal(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.EOF
	}

	return err
}

// dispatch routes one tagged frame to its handler.
func (c *connState) dispatch(ctx context.Context, tag byte) error {
	switch tag {
	case TagParse:
		return c.handleParse(ctx)
	case TagDescribe:
		return c.handleDescribe(ctx)
	case TagExecute:
		return c.handleExecute(ctx)
	case TagOptimisticExecute:
		return c.handleOptimistic(ctx)
	case TagFastQuery:
		return c.handleFastQuery(ctx)
	case TagSimpleQuery:
		return c.handleSimpleQuery(ctx)
	case TagSync:
		return c.handleSync(ctx)
	case TagDump:
		return c.handleDump(ctx)
	case TagRestore:
		return c.handleRestore(ctx)
	default:
		return nebulaerr.NewProtocolErrorf("unknown message tag %q", tag)
	}
}

// status maps the View's current transaction state to a ReadyForQuery status byte.
func (c *connState) status() byte {
	switch {
	case c.view.InTxError():
		return StatusTxError
	case c.view.InTx():
		return StatusInTx
	default:
		return StatusIdle
	}
}

// checkCapabilities rejects group if it requires any capability beyond allow.
func checkCapabilities(group *catalog.QueryUnitGroup, allow catalog.Capability) error {
	if disabled := group.Capabilities() &^ allow; disabled != 0 {
		return nebulaerr.NewDisabledCapabilityError(uint64(disabled))
	}

	return nil
}

// compile resolves req to a QueryUnitGroup, consulting and populating the View's compiled-query cache.
func (c *connState) compile(ctx context.Context, req CompileRequest) (catalog.Fingerprint, *catalog.QueryUnitGroup, error) {
	fp := req.Fingerprint()

	if group, ok := c.view.LookupCompiledQuery(fp); ok {
		return fp, group, nil
	}

	group, err := c.engine.compiler.Compile(ctx, req)
	if err != nil {
		return fp, nil, err
	}

	c.view.CacheCompiledQuery(fp, group)

	return fp, group, nil
}

// buildCompileRequest assembles a CompileRequest from a Parse/Optimistic/Fast-Query frame's headers and
// query bytes, applying the View's current defaults where a header is absent.
func (c *connState) buildCompileRequest(headers Headers, outputFormat byte, expectOne bool, query []byte) CompileRequest {
	module, _ := headers.string(HeaderExplicitModule)

	return CompileRequest{
		DatabaseName:      c.databaseName,
		Namespace:         c.view.NamespaceName,
		Module:            module,
		ProtocolVersion:   c.protocolVersion,
		OutputFormat:      outputFormat,
		ExpectOne:         expectOne,
		ImplicitLimit:     headers.uint64Or(HeaderImplicitLimit, 0),
		InlineTypeIDs:     headers.bool(HeaderImplicitTypeIDs),
		InlineTypeNames:   headers.bool(HeaderImplicitTypeNames),
		InlineObjectIDs:   headers.bool(HeaderExplicitObjectIDs),
		AllowCapabilities: headers.allowCapabilities(c.view.CapabilityMask),
		ReadOnly:          headers.bool(HeaderProhibitMutation),
		Query:             query,
	}
}

// readBindArgs reads `nargs:u16` then that many lp_bytes argument blobs.
func readBindArgs(r *frame.Reader) ([][]byte, error) {
	nargs, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}

	args := make([][]byte, nargs)
	for i := range args {
		blob, err := r.ReadLenPrefixedBytes()
		if err != nil {
			return nil, err
		}

		args[i] = blob
	}

	return args, nil
}

// bindArgs returns a shallow clone of group with its ExtraBlobs replaced by args. Parameter binding
// proper belongs to the out-of-scope compiler; the protocol layer's only remaining job is threading the
// raw argument blobs through to execution.
func bindArgs(group *catalog.QueryUnitGroup, args [][]byte) *catalog.QueryUnitGroup {
	clone := *group
	clone.ExtraBlobs = args

	return &clone
}

// executeGroup checks capabilities, binds args, and runs group through the Execution Coordinator,
// writing CommandComplete on success.
func (c *connState) executeGroup(ctx context.Context, group *catalog.QueryUnitGroup, allow catalog.Capability, args [][]byte) error {
	if err := checkCapabilities(group, allow); err != nil {
		return err
	}

	bound := bindArgs(group, args)

	effects, err := exec.Run(ctx, c.engine.pool, c.view, c.engine.registry, bound)
	if err != nil {
		return err
	}

	if effects&session.SchemaChanges != 0 {
		c.engine.publisher.Publish(ctx, c.databaseName, c.view.Database.DBVer())
	}

	writeCommandComplete(c.w, commandStatus(bound))

	return nil
}

// commandStatus derives a CommandComplete status tag from a unit group's first SQL statement, mirroring
// the convention of naming the leading keyword of the statement that ran.
func commandStatus(group *catalog.QueryUnitGroup) string {
	if len(group.Units) == 0 || len(group.Units[0].SQL) == 0 {
		return "OK"
	}

	stmt := strings.TrimSpace(group.Units[0].SQL[0])
	if sp := strings.IndexByte(stmt, ' '); sp > 0 {
		return strings.ToUpper(stmt[:sp])
	}

	return strings.ToUpper(stmt)
}

// handleParse implements the Parse frame: compile (or reuse from cache) and reply with ParseComplete.
func (c *connState) handleParse(ctx context.Context) error {
	headers, err := readHeaders(c.r)
	if err != nil {
		return err
	}

	outputFormat, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	expectOneByte, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	query, err := c.r.ReadLenPrefixedBytes()
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if len(query) == 0 {
		return nebulaerr.NewProtocolError("empty query")
	}

	req := c.buildCompileRequest(headers, outputFormat, expectOneByte != 0, query)

	fp, group, err := c.compile(ctx, req)
	if err != nil {
		return err
	}

	c.lastParse = &parseState{fingerprint: fp, group: group, req: req}

	writeDescriptor(c.w, TagParseComplete, group, c.protocolVersion, req.InlineTypeIDs)

	return nil
}

// handleDescribe implements the Describe frame, legacy protocols only: re-describe the last Parse.
func (c *connState) handleDescribe(ctx context.Context) error {
	mode, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if !c.protocolVersion.IsLegacy() {
		return nebulaerr.NewUnsupportedFeatureError("describe is not supported above the legacy protocol boundary")
	}

	if mode != 'T' {
		return nebulaerr.NewProtocolErrorf("unsupported describe mode %q", mode)
	}

	if c.lastParse == nil {
		return nebulaerr.NewTypeSpecNotFoundError("describe without a preceding parse")
	}

	writeDescriptor(c.w, TagCommandDataDescription, c.lastParse.group, c.protocolVersion, true)

	return nil
}

// handleExecute implements the Execute frame: bind args and run the last Parse's compiled group.
func (c *connState) handleExecute(ctx context.Context) error {
	name, err := c.r.ReadLenPrefixedUTF8()
	if err != nil {
		return err
	}

	if name != "" {
		return nebulaerr.NewUnsupportedFeatureError("named prepared statements are not supported")
	}

	args, err := readBindArgs(c.r)
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if c.lastParse == nil {
		return nebulaerr.NewTypeSpecNotFoundError("execute without a preceding parse")
	}

	return c.executeGroup(ctx, c.lastParse.group, c.lastParse.req.AllowCapabilities, args)
}

// handleOptimistic implements the Optimistic Execute frame: parse-or-reuse, then execute, skipping the
// round trip for a Describe when the caller's cached in/out type ids still match.
func (c *connState) handleOptimistic(ctx context.Context) error {
	headers, err := readHeaders(c.r)
	if err != nil {
		return err
	}

	outputFormat, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	expectOneByte, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	query, err := c.r.ReadLenPrefixedBytes()
	if err != nil {
		return err
	}

	inTID, err := c.r.ReadUUID()
	if err != nil {
		return err
	}

	outTID, err := c.r.ReadUUID()
	if err != nil {
		return err
	}

	args, err := readBindArgs(c.r)
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	req := c.buildCompileRequest(headers, outputFormat, expectOneByte != 0, query)

	_, group, err := c.compile(ctx, req)
	if err != nil {
		return err
	}

	in, out := group.OutDescriptor()
	if in != inTID || out != outTID {
		writeDescriptor(c.w, TagCommandDataDescription, group, c.protocolVersion, req.InlineTypeIDs)
		return nil
	}

	return c.executeGroup(ctx, group, req.AllowCapabilities, args)
}

// handleFastQuery implements the Fast Query frame: a combined parse+execute shortcut that never accepts
// bind arguments.
func (c *connState) handleFastQuery(ctx context.Context) error {
	headers, err := readHeaders(c.r)
	if err != nil {
		return err
	}

	outputFormat, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	expectOneByte, err := c.r.ReadByte()
	if err != nil {
		return err
	}

	query, err := c.r.ReadLenPrefixedBytes()
	if err != nil {
		return err
	}

	args, err := readBindArgs(c.r)
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if len(args) != 0 {
		return nebulaerr.NewUnsupportedFeatureError("fast query does not support bind arguments")
	}

	req := c.buildCompileRequest(headers, outputFormat, expectOneByte != 0, query)

	_, group, err := c.compile(ctx, req)
	if err != nil {
		return err
	}

	writeDescriptor(c.w, TagCommandDataDescription, group, c.protocolVersion, req.InlineTypeIDs)

	return c.executeGroup(ctx, group, req.AllowCapabilities, nil)
}

// rollbackUnit synthesizes the implicit ROLLBACK run at the start of a Simple Query script issued while
// the current transaction frame is errored.
func rollbackUnit() *catalog.QueryUnit {
	return &catalog.QueryUnit{SQL: []string{"ROLLBACK"}, TxRollback: true, IsTransactional: true}
}

// splitScript splits a Simple Query script into non-empty statements on ';'. A real tokenizer belongs to
// the out-of-scope compiler; this is a documented simplification sufficient for scripts without
// semicolons embedded in string literals.
func splitScript(script string) []string {
	parts := strings.Split(script, ";")

	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			stmts = append(stmts, trimmed)
		}
	}

	return stmts
}

// handleSimpleQuery implements the Simple Query frame: an implicit-transaction recovery rollback (if
// needed), followed by each statement of the script compiled and executed in turn.
func (c *connState) handleSimpleQuery(ctx context.Context) error {
	script, err := c.r.ReadLenPrefixedUTF8()
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if c.view.InTxError() {
		rollback := &catalog.QueryUnitGroup{Units: []*catalog.QueryUnit{rollbackUnit()}}

		if err := checkCapabilities(rollback, c.view.CapabilityMask); err != nil {
			return err
		}

		if _, err := exec.Run(ctx, c.engine.pool, c.view, c.engine.registry, rollback); err != nil {
			return err
		}
	}

	for _, stmt := range splitScript(script) {
		req := c.buildCompileRequest(nil, 0, false, []byte(stmt))

		_, group, err := c.compile(ctx, req)
		if err != nil {
			return err
		}

		if err := c.executeGroup(ctx, group, req.AllowCapabilities, nil); err != nil {
			return err
		}
	}

	return nil
}

// handleSync implements the Sync frame: reply with the connection's current transaction status.
func (c *connState) handleSync(ctx context.Context) error {
	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	writeReadyForQuery(c.w, c.status())

	return nil
}

// handleDump implements the Dump frame by delegating to the engine's DumpRestorer. With none configured
// (the default) it fails closed with UnsupportedFeatureError rather than silently producing nothing.
func (c *connState) handleDump(ctx context.Context) error {
	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if c.engine.dumpRestorer == nil {
		return nebulaerr.NewUnsupportedFeatureError("dump is not supported")
	}

	if err := c.engine.dumpRestorer.Dump(ctx, c.databaseName); err != nil {
		return err
	}

	writeCommandComplete(c.w, "DUMP")

	return nil
}

// handleRestore implements the Restore frame by delegating to the engine's DumpRestorer, for the same
// reason and fail-closed default as handleDump.
func (c *connState) handleRestore(ctx context.Context) error {
	headerLen, err := c.r.ReadUint16()
	if err != nil {
		return err
	}

	header, err := c.r.ReadBytes(int(headerLen))
	if err != nil {
		return err
	}

	if err := c.r.FinishMessage(); err != nil {
		return err
	}

	if c.engine.dumpRestorer == nil {
		return nebulaerr.NewUnsupportedFeatureError("restore is not supported")
	}

	if err := c.engine.dumpRestorer.Restore(ctx, c.databaseName, header); err != nil {
		return err
	}

	writeCommandComplete(c.w, "RESTORE")

	return nil
}

// recoverUntilSync discards incoming frames until a Sync frame arrives, per the error-recovery protocol:
// once an ErrorResponse has been sent, the server must ignore everything the client sends until Sync asks
// it to resynchronize.
func (c *connState) recoverUntilSync(ctx context.Context) error {
	for {
		tag, err := c.r.TakeMessage()
		if err != nil {
			return err
		}

		if _, err := c.r.ReadBytes(c.r.Remaining()); err != nil {
			return err
		}

		if err := c.r.FinishMessage(); err != nil {
			return err
		}

		if tag == TagSync {
			writeReadyForQuery(c.w, c.status())
			return nil
		}

		if tag == TagTerminate {
			return io.EOF
		}
	}
}
