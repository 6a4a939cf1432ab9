// Package httpapi implements the thin HTTP adapter: POST /{db}/edgeql and GET /{db}/edgeql, translating
// JSON requests into the same backend execution path the binary protocol's EdgeQL-equivalent support
// uses (exec.Conn.ParseExecuteJSON), so the two front doors share one execution core.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/exec"
	"github.com/nebuladb/nebula-core/logging"
	"github.com/nebuladb/nebula-core/nebulaerr"
)

// maxBodyBytes bounds the size of a POST request body the adapter will read, so a misbehaving client
// can't exhaust server memory with an unbounded upload.
const maxBodyBytes = 1 << 20 // 1 MiB

// queryRequest is the JSON body shape accepted by POST /{db}/edgeql, and the equivalent GET query string.
type queryRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	Globals   map[string]any `json:"globals"`
	Module    string         `json:"module"`
	Namespace string         `json:"namespace"`
	Limit     uint64         `json:"limit"`
}

// dataResponse is the success envelope: {"data": ...}.
type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

// errorResponse is the failure envelope: {"error": {message, type, code}}.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    uint32 `json:"code"`
}

// Handler serves the HTTP adapter's routes, resolving {db} against registry purely to keep the Database
// Registry aware of HTTP-driven access (multi-tenant routing across distinct backend pools is a named
// non-goal; every database currently shares pool).
type Handler struct {
	registry *catalog.Registry
	pool     exec.Pool
	logger   *logging.Logger
}

// NewHandler returns a Handler serving queries against pool, with registry consulted for database
// bookkeeping only.
func NewHandler(registry *catalog.Registry, pool exec.Pool, logger *logging.Logger) *Handler {
	return &Handler{registry: registry, pool: pool, logger: logger}
}

// Router builds the chi.Router exposing this Handler's routes, with the teacher's standard middleware
// stack: request id, structured request logging, and panic recovery.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/{db}/edgeql", h.handlePost)
	r.Get("/{db}/edgeql", h.handleGet)

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.Debugw("HTTP request", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, nebulaerr.NewProtocolError("can't read request body"))
		return
	}

	if len(body) > maxBodyBytes {
		writeError(w, nebulaerr.NewProtocolError("request body too large"))
		return
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nebulaerr.NewProtocolErrorf("invalid JSON body: %v", err))
		return
	}

	h.handle(w, r, req)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := queryRequest{
		Query:     q.Get("query"),
		Module:    q.Get("module"),
		Namespace: q.Get("namespace"),
	}

	if v := q.Get("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
			writeError(w, nebulaerr.NewProtocolErrorf("invalid JSON in variables: %v", err))
			return
		}
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.ParseUint(l, 10, 64)
		if err != nil {
			writeError(w, nebulaerr.NewProtocolErrorf("invalid limit: %v", err))
			return
		}

		req.Limit = limit
	}

	h.handle(w, r, req)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, req queryRequest) {
	if req.Query == "" {
		writeError(w, nebulaerr.NewProtocolError("empty query"))
		return
	}

	dbName := chi.URLParam(r, "db")
	h.registry.Lookup(dbName)

	data, err := h.execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, data)
}

// execute borrows a backend connection and runs req.Query through the EdgeQL-equivalent JSON path,
// exactly the shortcut exec.Conn.ParseExecuteJSON exists for.
func (h *Handler) execute(ctx context.Context, req queryRequest) ([]byte, error) {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return nil, nebulaerr.NewBackendError(err)
	}
	defer h.pool.Release(conn)

	return conn.ParseExecuteJSON(ctx, req.Query, req.Variables)
}

func writeData(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	_ = json.NewEncoder(w).Encode(dataResponse{Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	kind := nebulaerr.AsKind(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{
		Message: kind.Error(),
		Type:    errorType(kind),
		Code:    uint32(kind.ErrorCode()),
	}})
}
