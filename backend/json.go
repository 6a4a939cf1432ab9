package backend

import (
	"database/sql"
	"encoding/json"

	"github.com/nebuladb/nebula-core/nebulaerr"
)

// rowsToJSON drains rows into a JSON array of objects keyed by column name, the shape expected by the
// HTTP adapter's thin query path.
func rowsToJSON(rows *sql.Rows) ([]byte, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nebulaerr.NewBackendError(err)
	}

	docs := make([]map[string]any, 0)

	for rows.Next() {
		values := make([]any, len(columns))
		scanDest := make([]any, len(columns))
		for i := range values {
			scanDest[i] = &values[i]
		}

		if err := rows.Scan(scanDest...); err != nil {
			return nil, nebulaerr.NewBackendError(err)
		}

		doc := make(map[string]any, len(columns))
		for i, col := range columns {
			doc[col] = normalizeValue(values[i])
		}

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, nebulaerr.NewBackendError(err)
	}

	encoded, err := json.Marshal(docs)
	if err != nil {
		return nil, nebulaerr.NewInternalServerError(err)
	}

	return encoded, nil
}

// normalizeValue converts driver-returned byte slices (the common representation for TEXT/VARCHAR columns
// under both the mysql and lib/pq drivers) into strings, so json.Marshal doesn't base64-encode them.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
