// Package reporter pushes signed metric snapshots to the monitoring registry.
package reporter

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Canonical encodes the metric fields as deterministic JSON: object keys in
// sorted order, HTML escaping off, no trailing newline. The report signature
// covers these exact bytes, so the encoding must be reproducible on both ends.
func Canonical(fields map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, errors.Wrap(err, "encode metrics")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
