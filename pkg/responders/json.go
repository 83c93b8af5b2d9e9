// Package responders writes JSON responses in the two wire formats the
// server speaks: plain JSON and the callable-function envelope.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with status code and payload.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// CallableResult writes a successful callable response: {"result": payload}.
func CallableResult(w http.ResponseWriter, payload any) {
	if payload == nil {
		payload = struct{}{}
	}
	JSON(w, http.StatusOK, struct {
		Result any `json:"result"`
	}{payload})
}

// CallableRequest is the callable request envelope: {"data": ...}.
type CallableRequest[T any] struct {
	Data *T `json:"data"`
}
