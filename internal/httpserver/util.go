package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// decodeJSON decodes a JSON request body into dest, rejecting unknown fields.
// The body is closed after decoding.
func decodeJSON(r io.ReadCloser, dest any) error {
	defer r.Close()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// discardBody drains a body the endpoint has no use for.
func discardBody(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	_ = r.Body.Close()
}

// decodeBody limits the body size and decodes it strictly.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dest any) error {
	return decodeJSON(http.MaxBytesReader(w, r.Body, limit), dest)
}
