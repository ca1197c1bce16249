// Package httperr writes the JSON replies shared by every kapi route.
package httperr

import (
	"encoding/json"
	"net/http"

	"github.com/hostclick/kapi/pkg/types"
)

const (
	StatusOK      = "ok"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

// JSON encodes v with the given HTTP status.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Write replies with {"status": status, "reason": reason}. An empty reason
// is omitted.
func Write(w http.ResponseWriter, code int, status, reason string) {
	JSON(w, code, types.WebhookResponse{Status: status, Reason: reason})
}
